package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestStatus(t *testing.T) {
	tests := []struct {
		in       string
		expected RequestStatus
	}{
		{"PENDING", RequestPending},
		{"pending", RequestPending},
		{"APPROVED", RequestApproved},
		{"TRANSFER_INITIATED", RequestApproved},
		{"TRANSFER_COMPLETED", RequestApproved},
		{"DECLINED", RequestDeclined},
		{"REJECTED", RequestDeclined},
		{"CANCELED", RequestCancelled},
		{"CANCELLED", RequestCancelled},
		{"", RequestUnknown},
		{"ON_HOLD", RequestUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseRequestStatus(tt.in))
		})
	}
}

func TestRequestStatus_IsTerminal(t *testing.T) {
	assert.False(t, RequestPending.IsTerminal())
	for _, s := range []RequestStatus{RequestApproved, RequestDeclined, RequestCancelled, RequestUnknown} {
		assert.True(t, s.IsTerminal(), s)
	}
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleAdmin, ParseRole("admin"))
	assert.Equal(t, RoleCR, ParseRole(" CR "))
	assert.Equal(t, RoleNonCR, ParseRole("NON_CR"))
	assert.Equal(t, RoleNonCR, ParseRole("student"))
}

func TestUser_Is(t *testing.T) {
	u := User{ID: 7}
	assert.True(t, u.Is(&User{ID: 7}))
	assert.False(t, u.Is(&User{ID: 8}))
	assert.False(t, u.Is(nil))
	assert.False(t, User{}.Is(&User{}))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("keys")
	require.NoError(t, err)
	assert.Equal(t, KindKey, k)

	k, err = ParseKind("Bicycle")
	require.NoError(t, err)
	assert.Equal(t, KindBicycle, k)

	_, err = ParseKind("scooter")
	assert.Error(t, err)
}

func TestResourceFilter_Validate(t *testing.T) {
	assert.NoError(t, ResourceFilter{Kind: KindKey}.Validate())
	assert.NoError(t, ResourceFilter{Kind: KindKey, Block: "A", Floor: "1"}.Validate())
	assert.Error(t, ResourceFilter{Kind: KindKey, Block: "A"}.Validate())
	assert.Error(t, ResourceFilter{Kind: KindKey, Location: "north"}.Validate())
	assert.NoError(t, ResourceFilter{Kind: KindBicycle, Location: "north"}.Validate())
	assert.Error(t, ResourceFilter{Kind: KindBicycle, Floor: "2"}.Validate())
	assert.Error(t, ResourceFilter{}.Validate())
	assert.NoError(t, ResourceFilter{Kind: KindKey, Recent: true}.Validate())
	assert.Error(t, ResourceFilter{Kind: KindKey, Recent: true, Block: "A", Floor: "1"}.Validate())
	assert.Error(t, ResourceFilter{Kind: KindBicycle, Recent: true}.Validate())
}

func TestKeyInfo_LabelAndMatches(t *testing.T) {
	k := KeyInfo{ClassroomName: "101", BlockName: "A", Floor: "1"}
	assert.Equal(t, "A-101", k.Label())
	assert.True(t, k.Matches(KeyInfo{ClassroomName: "101", BlockName: "a"}))
	assert.False(t, k.Matches(KeyInfo{ClassroomName: "101", BlockName: "A", Floor: "2"}))
	assert.False(t, k.Matches(KeyInfo{ClassroomName: "102", BlockName: "A"}))
}

func TestActiveHolders_ToleratesDuplicates(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	returned := base.Add(time.Hour)
	ref := Ref{Kind: KindBicycle, ID: 3}

	records := []BorrowRecord{
		{ID: 1, Resource: ref, Student: User{ID: 10}, BorrowTime: base},
		{ID: 2, Resource: ref, Student: User{ID: 11}, BorrowTime: base.Add(30 * time.Minute)},
		{ID: 3, Resource: ref, Student: User{ID: 12}, BorrowTime: base.Add(2 * time.Hour), ReturnTime: &returned},
		{ID: 4, Resource: Ref{Kind: KindKey, ID: 3}, Student: User{ID: 13}, BorrowTime: base},
	}

	holders := ActiveHolders(records)
	require.Len(t, holders, 2)
	assert.Equal(t, int64(11), holders[ref].Student.ID)
	assert.Equal(t, int64(13), holders[Ref{Kind: KindKey, ID: 3}].Student.ID)
}

func TestSplitHistory(t *testing.T) {
	entries := []HistoryEntry{
		KeyHistoryEntry{BorrowRecord: BorrowRecord{ID: 1}, Key: KeyInfo{ClassroomName: "101"}},
		BicycleHistoryEntry{BorrowRecord: BorrowRecord{ID: 2}, Bicycle: BicycleInfo{QRCode: "QR-2"}},
		KeyHistoryEntry{BorrowRecord: BorrowRecord{ID: 3}},
	}

	keys, bikes := SplitHistory(entries)
	require.Len(t, keys, 2)
	require.Len(t, bikes, 1)
	assert.Equal(t, int64(1), keys[0].ID)
	assert.Equal(t, int64(3), keys[1].ID)
	assert.Equal(t, "QR-2", bikes[0].Bicycle.QRCode)
	assert.Len(t, Records(entries), 3)
}

func TestHistoryEntry_MarshalCarriesKind(t *testing.T) {
	b, err := json.Marshal([]HistoryEntry{
		KeyHistoryEntry{BorrowRecord: BorrowRecord{ID: 1}},
		BicycleHistoryEntry{BorrowRecord: BorrowRecord{ID: 2}},
	})
	require.NoError(t, err)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	require.Len(t, out, 2)
	assert.Equal(t, "KEY", out[0]["kind"])
	assert.Equal(t, "BICYCLE", out[1]["kind"])
	assert.EqualValues(t, 2, out[1]["id"])
}
