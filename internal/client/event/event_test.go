package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDirectMessage(t *testing.T) {
	frame := []byte(`{"event":"direct-message","data":{"_id":"m1","text":"hi","sender":{"_id":"u2","name":"Bea"},"receiver":"u1"}}`)

	ev, err := Decode(frame)
	require.NoError(t, err)

	dm, ok := ev.(DirectMessage)
	require.True(t, ok)
	assert.Equal(t, "m1", dm.Message.ID)
	assert.Equal(t, "hi", dm.Message.Text)
	assert.Equal(t, "u2", dm.Message.Sender.ID)
}

func TestDecodeGroupMessage(t *testing.T) {
	frame := []byte(`{"event":"group-message","data":{"_id":"m2","text":"yo","sender":{"_id":"u3","name":"Cleo"},"group":"g1"}}`)

	ev, err := Decode(frame)
	require.NoError(t, err)

	gm, ok := ev.(GroupMessage)
	require.True(t, ok)
	assert.Equal(t, "g1", gm.Message.Group)
}

func TestDecodeMessageSent(t *testing.T) {
	frame := []byte(`{"event":"message-sent","data":{"success":true,"message":{"_id":"m1","text":"hi"}}}`)

	ev, err := Decode(frame)
	require.NoError(t, err)

	ack, ok := ev.(MessageSent)
	require.True(t, ok)
	assert.True(t, ack.Success)
	assert.Equal(t, "m1", ack.Message.ID)
}

func TestDecodeTypingVariants(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"user-typing","data":{"userId":"u2","type":"direct"}}`))
	require.NoError(t, err)
	typing := ev.(Typing)
	assert.False(t, typing.Stopped)
	assert.Equal(t, "u2", typing.UserID)

	ev, err = Decode([]byte(`{"event":"user-stopped-typing","data":{"userId":"u2","type":"group","groupId":"g1"}}`))
	require.NoError(t, err)
	typing = ev.(Typing)
	assert.True(t, typing.Stopped)
	assert.Equal(t, "g1", typing.GroupID)
}

func TestDecodeStatusDeletedRead(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"user-status","data":{"userId":"u5","status":"online"}}`))
	require.NoError(t, err)
	assert.Equal(t, UserStatus{UserID: "u5", Status: "online"}, ev)

	ev, err = Decode([]byte(`{"event":"message-deleted","data":{"messageId":"m1"}}`))
	require.NoError(t, err)
	assert.Equal(t, MessageDeleted{MessageID: "m1"}, ev)

	ev, err = Decode([]byte(`{"event":"messages-marked-read","data":{"messageIds":["m1","m2"],"readBy":"u2"}}`))
	require.NoError(t, err)
	assert.Equal(t, MessagesRead{MessageIDs: []string{"m1", "m2"}, ReadBy: "u2"}, ev)

	ev, err = Decode([]byte(`{"event":"error","data":{"message":"nope"}}`))
	require.NoError(t, err)
	assert.Equal(t, ServerError{Message: "nope"}, ev)
}

func TestDecodeUnknownEvent(t *testing.T) {
	_, err := Decode([]byte(`{"event":"mystery","data":{}}`))
	require.ErrorIs(t, err, ErrUnknown)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"event":"direct-message","data":"not an object"}`))
	assert.Error(t, err)
}

func TestEncodeRoundtrip(t *testing.T) {
	frame, err := Encode(NameSendMessage, SendMessagePayload{Content: "hi", Receiver: "u2"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, NameSendMessage, env.Event)

	var payload SendMessagePayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "hi", payload.Content)
	assert.Equal(t, "u2", payload.Receiver)
}

func TestEncodeScalarPayload(t *testing.T) {
	frame, err := Encode(NameJoinGroup, "g1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"join-group","data":"g1"}`, string(frame))
}
