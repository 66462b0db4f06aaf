package state

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshalToMap(t *testing.T, v interface{}) map[string]interface{} {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestAppStateJSONShape(t *testing.T) {
	public := &net.UDPAddr{IP: net.IPv4(1, 1, 1, 1), Port: 40000}
	peer := &net.UDPAddr{IP: net.IPv4(2, 2, 2, 2), Port: 40001}

	m := marshalToMap(t, AppState{
		PublicAddr:  public,
		PeerAddr:    peer,
		NATType:     NATCone,
		Status:      StatusConnected,
		Fingerprint: "AB12 CD34 EF56 0789 ABCD EF01",
	})

	assert.Equal(t, "1.1.1.1:40000", m["public_ip"])
	assert.Equal(t, "2.2.2.2:40001", m["peer_ip"])
	assert.Nil(t, m["local_ip"])
	assert.Equal(t, "Cone", m["nat_type"])
	assert.Equal(t, "CONNECTED", m["status"])
	assert.Equal(t, "AB12 CD34 EF56 0789 ABCD EF01", m["fingerprint"])
}

func TestAppStateJSONNulls(t *testing.T) {
	m := marshalToMap(t, AppState{})

	assert.Nil(t, m["public_ip"])
	assert.Nil(t, m["peer_ip"])
	assert.Equal(t, "Unknown", m["nat_type"])
	assert.Equal(t, "DISCONNECTED", m["status"])
	_, present := m["fingerprint"]
	assert.False(t, present, "fingerprint must be omitted when disconnected")
}

func TestDisconnectedEventJSON(t *testing.T) {
	m := marshalToMap(t, Disconnected{
		Reason: "aborted",
		State:  AppState{Status: StatusDisconnected},
	})

	assert.Equal(t, "DISCONNECTED", m["status"])
	assert.Equal(t, "aborted", m["message"])
	stateObj, ok := m["state"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "DISCONNECTED", stateObj["status"])
}

func TestPunchingEventJSON(t *testing.T) {
	m := marshalToMap(t, Punching{TimeoutSecs: 27, Message: "PROBING..."})

	assert.Equal(t, "PUNCHING", m["status"])
	assert.Equal(t, float64(27), m["timeout"])
	assert.Equal(t, "PROBING...", m["message"])
}

func TestConnectedEventJSON(t *testing.T) {
	m := marshalToMap(t, Connected{Fingerprint: "AB12 CD34 EF56 0789 ABCD EF01"})

	assert.Equal(t, "CONNECTED", m["status"])
	assert.Equal(t, "AB12 CD34 EF56 0789 ABCD EF01", m["fingerprint"])
}

func TestMessageEventJSON(t *testing.T) {
	m := marshalToMap(t, Message{Content: "hello", FromMe: false})

	assert.Equal(t, "MESSAGE", m["status"])
	assert.Equal(t, "hello", m["content"])
	assert.Equal(t, false, m["from_me"])
}

func TestChatClearedEventJSON(t *testing.T) {
	m := marshalToMap(t, ChatCleared{})
	assert.Equal(t, "CLEAR_CHAT", m["status"])
}

func TestInitialEventJSON(t *testing.T) {
	m := marshalToMap(t, Initial{State: AppState{Status: StatusPunching}})

	assert.Equal(t, "PUNCHING", m["status"])
	assert.Equal(t, true, m["initial"])
	stateObj, ok := m["state"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "PUNCHING", stateObj["status"])
}
