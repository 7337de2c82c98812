package user

import "testing"

func TestAddRejectsDuplicateID(t *testing.T) {
	t1 := NewTable()
	if err := t1.Add(&User{ID: 1, Name: "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := t1.Add(&User{ID: 1, Name: "bob"}); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestAddRejectsDuplicateName(t *testing.T) {
	t1 := NewTable()
	if err := t1.Add(&User{ID: 1, Name: "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := t1.Add(&User{ID: 2, Name: "alice"}); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestLocalIndex(t *testing.T) {
	tbl := NewTable()
	tbl.Add(&User{ID: 1, Name: "alice", Flags: Flags{Local: true}})
	tbl.Add(&User{ID: 2, Name: "bob"})

	locals := tbl.LocalUsers()
	if len(locals) != 1 || locals[0].ID != 1 {
		t.Fatalf("expected exactly one local user with id 1, got %v", locals)
	}
}

func TestRemoveClearsAllIndexes(t *testing.T) {
	tbl := NewTable()
	tbl.Add(&User{ID: 1, Name: "alice", Flags: Flags{Local: true}})
	tbl.Remove(1)

	if _, ok := tbl.Get(1); ok {
		t.Fatal("expected user removed from primary index")
	}
	if _, ok := tbl.ByName("alice"); ok {
		t.Fatal("expected user removed from name index")
	}
	if len(tbl.LocalUsers()) != 0 {
		t.Fatal("expected user removed from local index")
	}
	// name should now be available to someone else
	if err := tbl.Add(&User{ID: 2, Name: "alice"}); err != nil {
		t.Fatalf("name should be free after removal: %v", err)
	}
}

func TestRename(t *testing.T) {
	tbl := NewTable()
	tbl.Add(&User{ID: 1, Name: "alice"})
	tbl.Add(&User{ID: 2, Name: "bob"})

	if err := tbl.Rename(1, "bob"); err == nil {
		t.Fatal("expected rename to fail on taken name")
	}
	if err := tbl.Rename(1, "alicia"); err != nil {
		t.Fatal(err)
	}
	if _, ok := tbl.ByName("alice"); ok {
		t.Fatal("old name should no longer resolve")
	}
	u, ok := tbl.ByName("alicia")
	if !ok || u.ID != 1 {
		t.Fatal("new name should resolve to id 1")
	}
}
