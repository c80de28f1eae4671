package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profilium/fleet/backend/internal/infrastructure/logging"
	"github.com/profilium/fleet/backend/internal/infrastructure/monitoring"
	"github.com/profilium/fleet/backend/internal/shared/types"
)

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()

	gin.SetMode(gin.TestMode)
	hub := NewHub(logging.NewNop(), monitoring.NewMetrics())

	router := gin.New()
	router.GET("/ws", hub.HandleConnection)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	t.Cleanup(hub.Shutdown)

	return hub, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d, got %d", want, hub.ClientCount())
}

func TestEmitWithNoClients(t *testing.T) {
	hub := NewHub(logging.NewNop(), monitoring.NewMetrics())
	assert.NoError(t, hub.Emit(types.Alert{ID: "a1", ProfileID: "p1"}))
}

func TestAlertDeliveredToClient(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	require.NoError(t, hub.Emit(types.Alert{
		ID:        "a1",
		ProfileID: "p1",
		UserID:    "u1",
		Type:      types.AlertCrash,
		Severity:  types.SeverityCritical,
		Title:     "Worker crashed",
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg envelope
	require.NoError(t, conn.ReadJSON(&msg))

	assert.Equal(t, "alert", msg.Type)
	assert.Equal(t, "a1", msg.Alert.ID)
	assert.Equal(t, types.AlertCrash, msg.Alert.Type)
}

func TestUserScopedDelivery(t *testing.T) {
	hub, url := newTestHub(t)

	mine := dial(t, url+"?user=u1")
	other := dial(t, url+"?user=u2")
	waitClients(t, hub, 2)

	require.NoError(t, hub.Emit(types.Alert{ID: "a1", ProfileID: "p1", UserID: "u1"}))

	mine.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg envelope
	require.NoError(t, mine.ReadJSON(&msg))
	assert.Equal(t, "a1", msg.Alert.ID)

	// The other user's client gets nothing.
	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var none envelope
	assert.Error(t, other.ReadJSON(&none))
}

func TestDisconnectRemovesClient(t *testing.T) {
	hub, url := newTestHub(t)

	conn := dial(t, url)
	waitClients(t, hub, 1)

	conn.Close()
	waitClients(t, hub, 0)
}
