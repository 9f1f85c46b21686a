// workers/block_watcher.go
package workers

import (
	"context"
	"fmt"
	"log"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// BlockWatcher subscribes to new-block heads over a websocket RPC endpoint
// and invokes OnBlock per head. Any subscription failure tears the
// connection down and reports through OnError exactly once; the watcher does
// not reconnect on its own.
type BlockWatcher struct {
	URL     string
	OnBlock func()
	OnError func(error)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcMessage struct {
	ID     *int   `json:"id,omitempty"`
	Method string `json:"method,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Run blocks until ctx is cancelled or the subscription fails. A nil return
// means a clean cancellation.
func (w *BlockWatcher) Run(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, w.URL, nil)
	if err != nil {
		err = fmt.Errorf("block subscription dial failed: %w", err)
		if w.OnError != nil {
			w.OnError(err)
		}
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := rpcRequest{JSONRPC: "2.0", ID: 1, Method: "eth_subscribe", Params: []any{"newHeads"}}
	if err := wsjson.Write(ctx, conn, sub); err != nil {
		err = fmt.Errorf("block subscription request failed: %w", err)
		if w.OnError != nil {
			w.OnError(err)
		}
		return err
	}

	log.Printf("[Block Watcher] subscribed to new heads at %s", w.URL)

	for {
		var msg rpcMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			err = fmt.Errorf("block subscription read failed: %w", err)
			if w.OnError != nil {
				w.OnError(err)
			}
			return err
		}
		if msg.Error != nil {
			err := fmt.Errorf("block subscription error %d: %s", msg.Error.Code, msg.Error.Message)
			if w.OnError != nil {
				w.OnError(err)
			}
			return err
		}
		// The first frame is the subscription ack; heads arrive as
		// eth_subscription notifications.
		if msg.Method == "eth_subscription" && w.OnBlock != nil {
			w.OnBlock()
		}
	}
}
