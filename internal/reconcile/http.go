package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/DoyleJ11/skygames-rooms/pkg/types"
)

// HTTPPoller fetches GET /api/presence/friends.
type HTTPPoller struct {
	BaseURL string // e.g. http://localhost:8080
	Token   string
	Client  *http.Client
}

func (p *HTTPPoller) Poll(ctx context.Context) (types.FriendsSnapshot, error) {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(p.BaseURL, "/")+"/api/presence/friends", nil)
	if err != nil {
		return types.FriendsSnapshot{}, err
	}
	req.Header.Set("Authorization", "Bearer "+p.Token)

	resp, err := client.Do(req)
	if err != nil {
		return types.FriendsSnapshot{}, fmt.Errorf("poll friends: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body types.ErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return types.FriendsSnapshot{}, fmt.Errorf("poll friends: status %d: %s", resp.StatusCode, body.Error)
	}
	var snap types.FriendsSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return types.FriendsSnapshot{}, fmt.Errorf("poll friends: decode: %w", err)
	}
	return snap, nil
}

// WebsocketFeed returns a FeedFunc dialing wsURL (e.g. ws://localhost:8080/ws/presence).
func WebsocketFeed(wsURL, token string) FeedFunc {
	return func(ctx context.Context) (<-chan types.Delta, func(), error) {
		return DialFeed(ctx, wsURL, token)
	}
}

// DialFeed opens the presence websocket. The channel closes when the socket
// does; release closes the socket and waits for the reader to exit.
func DialFeed(ctx context.Context, wsURL, token string) (<-chan types.Delta, func(), error) {
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial presence feed: %w", err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	out := make(chan types.Delta, 16)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)
		for {
			var m types.ServerMessage
			if err := wsjson.Read(readCtx, conn, &m); err != nil {
				return
			}
			if m.Type != types.MsgActivityUpdate || m.Delta == nil {
				continue
			}
			select {
			case out <- *m.Delta:
			case <-readCtx.Done():
				return
			}
		}
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			<-done
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
		})
	}
	return out, release, nil
}
