package images

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lks_builder/formatting"
	"lks_builder/internal/claims"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		url  string
		want Slot
		ok   bool
	}{
		{"https://files.example/att/SO123_old_read.jpg", SlotOld, true},
		{"SO123_OLDREAD.JPG", SlotOld, true},
		{"SO123_old_red.png", SlotOld, true},
		{"SO123_crd.png", SlotCard, true},
		{"SO123_Card.png", SlotCard, true},
		{"SO123_cad.png", SlotCard, true},
		{"SO123_new_metwr.png", SlotNew, true},
		{"SO123_newmeter.png", SlotNew, true},
		{"SO123_new_meer.png", SlotNew, true},
		{"SO123_new_mter.png", SlotNew, true},
		{"SO123_site_photo.png", "", false},
		{"", "", false},
		{"https://files.example/old_read/", "", false},
	}
	for _, tc := range cases {
		got, ok := Classify(tc.url)
		assert.Equal(t, tc.ok, ok, tc.url)
		assert.Equal(t, tc.want, got, tc.url)
	}
}

func TestClassifyPrecedence(t *testing.T) {
	got, ok := Classify("x_old_read_card_new_meter.png")
	require.True(t, ok)
	assert.Equal(t, SlotOld, got)

	got, ok = Classify("x_card_new_meter.png")
	require.True(t, ok)
	assert.Equal(t, SlotCard, got)
}

func TestClassifyShortCardCorruptionsNeedWholeWord(t *testing.T) {
	for _, name := range []string{"SO123_car.png", "SO123_ARD.jpg", "SO123car2.png"} {
		got, ok := Classify(name)
		assert.True(t, ok, name)
		assert.Equal(t, SlotCard, got, name)
	}
	for _, name := range []string{"SO123_board.png", "SO123_scar.jpg", "SO123_hard_hat.png", "carpet.png"} {
		_, ok := Classify(name)
		assert.False(t, ok, name)
	}
	got, ok := Classify("SO123_scar_new_meter.png")
	require.True(t, ok)
	assert.Equal(t, SlotNew, got)
}

func TestClassifyUsesFilenameOnly(t *testing.T) {
	_, ok := Classify("https://cards.example/old_read/SO1_photo.png")
	assert.False(t, ok)
}

func TestRulesAreCopies(t *testing.T) {
	r := Rules()
	require.Len(t, r, 4)
	r[0].Any[0] = "mutated"
	assert.Equal(t, "old_read", Rules()[0].Any[0])
}

func sheet(rows ...claims.RawRow) claims.Sheet {
	return claims.Sheet{
		Name:    "Attachments",
		Columns: []string{formatting.ColSO, formatting.ColAttachURL},
		Rows:    rows,
	}
}

func TestBuildMapForwardFillAndFirstSeen(t *testing.T) {
	m := BuildMap(sheet(
		claims.RawRow{SO: "100.0", AttachmentURL: "u/a_misc.png"},
		claims.RawRow{SO: "", AttachmentURL: "u/a_crd.png"},
		claims.RawRow{SO: "", AttachmentURL: "u/a_card_2.png"},
		claims.RawRow{SO: "  ", AttachmentURL: "u/a_new_meter.png"},
		claims.RawRow{SO: "200", AttachmentURL: ""},
		claims.RawRow{SO: "", AttachmentURL: "u/b_old_read.png"},
	))
	require.Len(t, m, 2)

	a := m["100"]
	require.NotNil(t, a)
	assert.Equal(t, "u/a_misc.png", a.First)
	assert.Equal(t, "u/a_crd.png", a.Card)
	assert.Equal(t, "u/a_new_meter.png", a.New)
	assert.Empty(t, a.Old)
	assert.Equal(t, "u/a_misc.png", a.Resolve(SlotOld))

	b := m["200"]
	require.NotNil(t, b)
	assert.Equal(t, "u/b_old_read.png", b.Resolve(SlotOld))
	assert.Empty(t, b.Resolve(SlotCard))
	assert.Empty(t, b.Resolve(SlotNew))
}

func TestBuildMapNoFallbackForCardOrNew(t *testing.T) {
	m := BuildMap(sheet(claims.RawRow{SO: "7", AttachmentURL: "u/random.png"}))
	s := m.Lookup("7.0")
	assert.Equal(t, "u/random.png", s.Resolve(SlotOld))
	assert.Empty(t, s.Resolve(SlotCard))
	assert.Empty(t, s.Resolve(SlotNew))
}

func TestBuildMapSkipsLeadingBlankSO(t *testing.T) {
	m := BuildMap(sheet(
		claims.RawRow{SO: "", AttachmentURL: "u/orphan_old_read.png"},
		claims.RawRow{SO: "8", AttachmentURL: "u/x_old_read.png"},
	))
	require.Len(t, m, 1)
	assert.Equal(t, "u/x_old_read.png", m["8"].Old)
}

func TestBuildMapMissingColumns(t *testing.T) {
	m := BuildMap(claims.Sheet{Columns: []string{formatting.ColSO}, Rows: []claims.RawRow{{SO: "1", AttachmentURL: "u/old_read.png"}}})
	assert.Empty(t, m)
	assert.Equal(t, Slots{}, m.Lookup("1"))
}
