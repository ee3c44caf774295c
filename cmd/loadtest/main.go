package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sidehustle-chat/internal/chat"
	"sidehustle-chat/internal/logger"
)

type authResponse struct {
	Token string `json:"access_token"`
	ID    string `json:"id"`
}

type conversationResponse struct {
	ID string `json:"conversation_id"`
}

type runner struct {
	baseURL  string
	wsURL    string
	msgCount int
	log      zerolog.Logger

	sent     atomic.Int64
	received atomic.Int64
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base URL")
	pairs := flag.Int("pairs", 50, "number of user pairs")
	msgs := flag.Int("msgs", 20, "messages per user")
	flag.Parse()

	r := &runner{
		baseURL:  strings.TrimRight(*baseURL, "/"),
		wsURL:    strings.Replace(strings.TrimRight(*baseURL, "/"), "http", "ws", 1) + "/ws",
		msgCount: *msgs,
		log:      logger.New(true, "info"),
	}

	r.log.Info().Int("users", *pairs*2).Int("messages_each", *msgs).Msg("🔥 Starting stress test")
	start := time.Now()

	var wg sync.WaitGroup
	// Pairs: user 0a talks to 0b, 1a to 1b, ...
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			r.runPair(pairID)
		}(i)
	}
	wg.Wait()

	r.log.Info().
		Int64("sent", r.sent.Load()).
		Int64("received", r.received.Load()).
		Dur("elapsed", time.Since(start)).
		Msg("✅ Load test complete")
}

func (r *runner) runPair(pairID int) {
	stamp := time.Now().UnixNano()
	userA := fmt.Sprintf("u_%d_%d_a", stamp, pairID)
	userB := fmt.Sprintf("u_%d_%d_b", stamp, pairID)
	pass := "password123"

	tokenA, _ := r.authenticate(userA, pass)
	tokenB, idB := r.authenticate(userB, pass)
	if tokenA == "" || tokenB == "" {
		return
	}

	convID := r.createConversation(tokenA, idB)
	if convID == "" {
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go r.chat(&wg, tokenA, convID, userA)
	go r.chat(&wg, tokenB, convID, userB)
	wg.Wait()
}

// authenticate registers (ignoring "already exists") and logs in.
func (r *runner) authenticate(username, password string) (string, string) {
	if resp, err := r.postJSON("/register", "", map[string]string{"username": username, "password": password}); err == nil {
		resp.Body.Close()
	}

	resp, err := r.postJSON("/login", "", map[string]string{"username": username, "password": password})
	if err != nil {
		r.log.Error().Err(err).Str("user", username).Msg("❌ Login failed")
		return "", ""
	}
	defer resp.Body.Close()

	var data authResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil || resp.StatusCode != http.StatusOK {
		r.log.Error().Int("status", resp.StatusCode).Str("user", username).Msg("❌ Login failed")
		return "", ""
	}
	return data.Token, data.ID
}

func (r *runner) createConversation(token, recipientID string) string {
	resp, err := r.postJSON("/api/conversations", token, map[string]string{"recipient_id": recipientID})
	if err != nil {
		r.log.Error().Err(err).Msg("❌ Create conversation failed")
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		r.log.Error().Int("status", resp.StatusCode).Msg("❌ Create conversation failed")
		return ""
	}

	var data conversationResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.ID
}

// chat sends msgCount messages over the websocket and counts the NEW_MESSAGE
// events that come back from the peer.
func (r *runner) chat(wg *sync.WaitGroup, token, convID, user string) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(r.wsURL+"?token="+url.QueryEscape(token), nil)
	if err != nil {
		r.log.Error().Err(err).Str("user", user).Msg("❌ WS connect failed")
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var env chat.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if env.Type == chat.EventNewMessage {
				r.received.Add(1)
			}
		}
	}()

	for i := 0; i < r.msgCount; i++ {
		cmd := chat.WSCommand{
			Type:           "send",
			ConversationID: convID,
			Content:        fmt.Sprintf("LoadTest Msg %d from %s", i, user),
		}
		if err := conn.WriteJSON(cmd); err != nil {
			r.log.Error().Err(err).Str("user", user).Msg("❌ Send failed")
			break
		}
		r.sent.Add(1)
		// Simulate a real network instead of a localhost burst
		time.Sleep(10 * time.Millisecond)
	}

	// Give in-flight events a moment before hanging up.
	time.Sleep(500 * time.Millisecond)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	r.log.Info().Str("user", user).Int("sent", r.msgCount).Msg("✅ Finished sending")
}

func (r *runner) postJSON(endpoint, token string, data interface{}) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	req, err := http.NewRequest(http.MethodPost, r.baseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}
