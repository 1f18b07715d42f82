// Copyright 2022
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocket publishes messages to a remote peer over a single websocket
// connection. Publish never blocks the mutating caller on a slow peer: the
// message is queued and a background writer drains the queue.
type WebSocket struct {
	url    string
	queue  chan Message
	mu     sync.Mutex
	conn   *websocket.Conn
	closed chan struct{}
}

func NewWebSocket(url string) *WebSocket {
	ws := &WebSocket{
		url:    url,
		queue:  make(chan Message, 1024),
		closed: make(chan struct{}),
	}
	go ws.writeLoop()
	return ws
}

func (ws *WebSocket) Publish(_ context.Context, msg Message) error {
	select {
	case ws.queue <- msg:
	default:
		// queue full; drop rather than stall the mutation path
		log.Warn().Int("Type", int(msg.Type)).Msg("realtime queue full, dropping message")
	}
	return nil
}

func (ws *WebSocket) Close() {
	close(ws.closed)
}

func (ws *WebSocket) writeLoop() {
	for {
		select {
		case <-ws.closed:
			ws.mu.Lock()
			if ws.conn != nil {
				if err := ws.conn.Close(); err != nil {
					log.Warn().Err(err).Msg("could not close realtime connection")
				}
			}
			ws.mu.Unlock()
			return
		case msg := <-ws.queue:
			ws.send(msg)
		}
	}
}

func (ws *WebSocket) send(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Int("Type", int(msg.Type)).Msg("could not marshal realtime message")
		return
	}

	for attempt := 0; attempt < 3; attempt++ {
		conn, err := ws.connection()
		if err != nil {
			log.Warn().Err(err).Str("Url", ws.url).Msg("could not reach realtime peer")
			time.Sleep(time.Second)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Warn().Err(err).Msg("realtime write failed, reconnecting")
			ws.dropConnection()
			continue
		}
		return
	}
	log.Error().Int("Type", int(msg.Type)).Msg("dropping realtime message after repeated failures")
}

func (ws *WebSocket) connection() (*websocket.Conn, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.conn != nil {
		return ws.conn, nil
	}
	conn, _, err := websocket.DefaultDialer.Dial(ws.url, nil)
	if err != nil {
		return nil, err
	}
	ws.conn = conn
	return conn, nil
}

func (ws *WebSocket) dropConnection() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.conn != nil {
		if err := ws.conn.Close(); err != nil {
			log.Warn().Err(err).Msg("could not close stale realtime connection")
		}
		ws.conn = nil
	}
}
