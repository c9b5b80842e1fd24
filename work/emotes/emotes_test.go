package emotes

import "testing"

func TestResolveChannelShadowsGlobal(t *testing.T) {
	table := NewTable()
	table.Replace(
		map[string]string{"Kappa": "25", "PogChamp": "88"},
		map[string]string{"Kappa": "custom-1"},
	)

	id, ok := table.Resolve("Kappa")
	if !ok || id != "custom-1" {
		t.Errorf("Resolve(Kappa) = %q, %v, want custom-1 from channel set", id, ok)
	}

	id, ok = table.Resolve("PogChamp")
	if !ok || id != "88" {
		t.Errorf("Resolve(PogChamp) = %q, %v, want 88 from global set", id, ok)
	}

	if _, ok := table.Resolve("NoSuch"); ok {
		t.Error("Resolve(NoSuch) = ok, want miss")
	}
}

func TestReplaceSwapsWholeTable(t *testing.T) {
	table := NewTable()
	table.Replace(map[string]string{"Old": "1"}, nil)
	table.Replace(map[string]string{"New": "2"}, nil)

	if _, ok := table.Resolve("Old"); ok {
		t.Error("stale entry survived a replace")
	}
	if id, ok := table.Resolve("New"); !ok || id != "2" {
		t.Errorf("Resolve(New) = %q, %v, want 2", id, ok)
	}
	if table.Len() != 1 {
		t.Errorf("Len() = %d, want 1", table.Len())
	}
}

func TestEmptyTableResolvesNothing(t *testing.T) {
	table := NewTable()
	if _, ok := table.Resolve("Kappa"); ok {
		t.Error("empty table resolved an emote")
	}
	table.Replace(nil, nil)
	if table.Len() != 0 {
		t.Errorf("Len() = %d, want 0", table.Len())
	}
}
