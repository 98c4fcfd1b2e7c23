package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteCoversInboundTypes(t *testing.T) {
	cases := map[MessageType]Route{
		TypeNotification:    RouteNotification,
		TypeChatMessage:     RouteChatMessage,
		TypeMessageStatus:   RouteMessageStatus,
		TypeUserStatus:      RouteUserStatus,
		TypeUserJoined:      RouteUserJoined,
		TypeUserLeft:        RouteUserLeft,
		TypeTyping:          RouteTyping,
		TypePong:            RoutePong,
		TypeCollabJoined:    RouteCollaboration,
		TypeCollabJoinError: RouteCollaboration,
		TypeCollabOperation: RouteCollaboration,
		TypeCollabCursor:    RouteCollaboration,
		TypeCollabSelection: RouteCollaboration,
		TypeCollabHeartbeat: RouteCollaboration,
		TypeCollabLeave:     RouteCollaboration,
		TypePing:            RouteOutbound,
		TypeJoinRoom:        RouteOutbound,
		"mystery":           RouteUnknown,
	}
	for typ, want := range cases {
		assert.Equal(t, want, typ.Route(), string(typ))
	}
}

func TestEventForSwallowsPong(t *testing.T) {
	_, ok := EventFor(RoutePong)
	assert.False(t, ok)

	kind, ok := EventFor(RouteUnknown)
	require.True(t, ok)
	assert.Equal(t, EventUnknown, kind)

	kind, ok = EventFor(RouteCollaboration)
	require.True(t, ok)
	assert.Equal(t, EventCollaboration, kind)
}

func TestDecodeRejectsMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"data":{}}`))
	require.Error(t, err)

	msg, err := Decode([]byte(`{"type":"chat_message","data":{"roomId":"r1","content":"hi"},"timestamp":42,"id":"m1"}`))
	require.NoError(t, err)
	var payload ChatPayload
	require.NoError(t, msg.Decode(&payload))
	assert.Equal(t, ChatPayload{RoomID: "r1", Content: "hi"}, payload)
	assert.EqualValues(t, 42, msg.Timestamp)
}

func TestCredentialValidate(t *testing.T) {
	assert.ErrorIs(t, Credential{Token: "x"}.Validate(), ErrConnection)
	assert.NoError(t, Credential{UserID: "u", Token: "x"}.Validate())
}
