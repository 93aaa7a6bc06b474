package domain

// RoomKey identifies a live room. Two organizations may use the same group id
// and still never share a room.
type RoomKey struct {
	OrgID   string `json:"orgId"`
	GroupID string `json:"groupId"`
}

// NewRoomKey builds the key for a group as seen by an authenticated identity.
// The org component always comes from the identity, never from client input.
func NewRoomKey(id Identity, groupID string) RoomKey {
	return RoomKey{OrgID: id.OrgID, GroupID: groupID}
}

func (k RoomKey) String() string {
	return k.OrgID + ":" + k.GroupID
}
