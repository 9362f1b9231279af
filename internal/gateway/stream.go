package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"dualhedge/internal/model"
)

// BookTickerStream feeds best-bid/ask nudges between tick-loop polls over a public
// Binance USDM futures websocket. The tick loop's own Orderbook poll stays
// authoritative; this only shortens the staleness window between polls.
type BookTickerStream struct {
	baseURL string
	dialer  *websocket.Dialer
}

// NewBookTickerStream builds a stream client; testnet toggles the stream host.
func NewBookTickerStream(testnet bool) *BookTickerStream {
	host := "fstream.binance.com"
	if testnet {
		host = "stream.binancefuture.com"
	}
	return &BookTickerStream{
		baseURL: (&url.URL{Scheme: "wss", Host: host, Path: "/ws"}).String(),
		dialer:  websocket.DefaultDialer,
	}
}

// Subscribe streams book-ticker updates for instrument until ctx is cancelled or the
// returned stop function is called. Only a failure of the initial dial is returned as
// an error; after that, read errors trigger redials with a doubling backoff (about 30s
// at most), retried until ctx is cancelled or stop is called. The update channel is
// closed when streaming ends.
func (s *BookTickerStream) Subscribe(ctx context.Context, instrument string) (<-chan model.TopOfBook, func(), error) {
	stream := fmt.Sprintf("%s@bookTicker", strings.ToLower(instrument))
	target := fmt.Sprintf("%s/%s", s.baseURL, stream)

	conn, _, err := s.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s book ticker stream: %w", instrument, err)
	}

	out := make(chan model.TopOfBook, 16)
	done := make(chan struct{})
	var mu sync.Mutex
	var once sync.Once
	current := conn

	stop := func() {
		once.Do(func() {
			close(done)
			mu.Lock()
			if current != nil {
				_ = current.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = current.Close()
			}
			mu.Unlock()
		})
	}

	go func() {
		defer close(out)
		defer stop()
		backoff := time.Second
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			default:
			}

			mu.Lock()
			active := current
			mu.Unlock()
			if active == nil {
				return
			}

			_, msg, err := active.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return
				}
				log.Printf("gateway: %s book ticker read error: %v", instrument, err)

				select {
				case <-ctx.Done():
					return
				case <-done:
					return
				case <-time.After(backoff):
				}
				newConn, _, dialErr := s.dialer.DialContext(ctx, target, nil)
				if dialErr != nil {
					if backoff < 30*time.Second {
						backoff *= 2
					}
					continue
				}
				backoff = time.Second
				mu.Lock()
				select {
				case <-done:
					_ = newConn.Close()
				default:
					current = newConn
				}
				mu.Unlock()
				continue
			}

			top, parseErr := parseBookTicker(msg)
			if parseErr != nil {
				continue
			}
			select {
			case out <- top:
			default:
			}
		}
	}()

	return out, stop, nil
}

func parseBookTicker(msg []byte) (model.TopOfBook, error) {
	var raw struct {
		Bid string `json:"b"`
		Ask string `json:"a"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return model.TopOfBook{}, err
	}
	bid, err := decimal.NewFromString(raw.Bid)
	if err != nil {
		return model.TopOfBook{}, err
	}
	ask, err := decimal.NewFromString(raw.Ask)
	if err != nil {
		return model.TopOfBook{}, err
	}
	return model.TopOfBook{Bid1: bid, Ask1: ask, Timestamp: time.Now()}, nil
}
