package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TrTueTah/ventidole-core/pkg/model"
)

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	ErrorCode  string          `json:"errorCode,omitempty"`
}

func login(apiAddr, userID string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"userId": userID})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", err
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", err
	}
	return data.Token, nil
}

func sendMessage(apiAddr, token, channelID, content string) error {
	reqBody, _ := json.Marshal(map[string]string{
		"channelId": channelID,
		"type":      "text",
		"content":   content,
	})
	req, _ := http.NewRequest(http.MethodPost, apiAddr+"/chat/messages", bytes.NewBuffer(reqBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("send failed: %s", string(body))
	}
	return nil
}

func sendFrame(c *websocket.Conn, event model.EventType, payload any) error {
	data, _ := json.Marshal(payload)
	frame, _ := json.Marshal(model.Frame{Event: event, Data: data})
	return c.WriteMessage(websocket.TextMessage, frame)
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "chat service address")
	apiAddr := flag.String("api", "http://localhost:8080", "chat service http base url")
	userID := flag.String("user", "", "user id (uuid)")
	channelID := flag.String("channel", "", "channel id (uuid)")
	flag.Parse()

	if *userID == "" || *channelID == "" {
		log.Fatal("both -user and -channel are required")
	}

	// 1. Login to get token
	log.Printf("Logging in as %s...", *userID)
	token, err := login(*apiAddr, *userID)
	if err != nil {
		log.Fatal("Login failed:", err)
	}
	log.Printf("Login successful. Token: %s...", token[:10])

	// 2. Connect to WebSocket with token
	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	log.Printf("connecting to %s", u.String())

	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	// 3. Join the channel explicitly (auto-subscribe covers existing
	// memberships, this makes the demo deterministic).
	if err := sendFrame(c, model.EventJoinChannel, map[string]string{"channelId": *channelID}); err != nil {
		log.Fatal("join:", err)
	}

	done := make(chan struct{})

	// 4. Start goroutine to print incoming events
	go func() {
		defer close(done)
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				log.Println("read:", err)
				return
			}

			var frame model.Frame
			if err := json.Unmarshal(raw, &frame); err != nil {
				log.Printf("Received raw: %s", raw)
				continue
			}

			switch frame.Event {
			case model.EventNewMessage:
				var msg model.Message
				if err := json.Unmarshal(frame.Data, &msg); err == nil {
					fmt.Printf("\r%s: %s\n> ", msg.SenderName, msg.Content)
					continue
				}
			case model.EventUserTyping:
				var typing model.UserTypingPayload
				if err := json.Unmarshal(frame.Data, &typing); err == nil && typing.IsTyping {
					fmt.Printf("\rUser %s is typing...      \n> ", typing.UserID)
					continue
				}
			case model.EventUserStatusChanged:
				var status model.UserStatusPayload
				if err := json.Unmarshal(frame.Data, &status); err == nil {
					state := "offline"
					if status.IsOnline {
						state = "online"
					}
					fmt.Printf("\rUser %s is now %s\n> ", status.UserID, state)
					continue
				}
			}
			fmt.Printf("\r[%s] %s\n> ", frame.Event, frame.Data)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// 5. Read from stdin and send messages over HTTP
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := scanner.Text()
			if text == "" {
				fmt.Print("> ")
				continue
			}

			if text == "/quit" {
				close(interrupt)
				break
			}

			if text == "/typing" {
				if err := sendFrame(c, model.EventTypingStart, map[string]string{"channelId": *channelID}); err != nil {
					log.Println("write:", err)
					break
				}
				fmt.Print("> ")
				continue
			}

			if err := sendMessage(*apiAddr, token, *channelID, text); err != nil {
				log.Println("send:", err)
			}
			fmt.Print("> ")
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("interrupt")

			// Cleanly close the connection by sending a close message and then
			// waiting (with timeout) for the server to close the connection.
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("write close:", err)
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
