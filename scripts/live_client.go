// Package main runs a demo client: it registers an endpoint, sends a test
// event, and tails the live operator feed over WebSocket.
package main

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Register a throwaway endpoint
	body := []byte(`{"tenantId":"t_demo","url":"https://example.invalid/hook"}`)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/endpoints", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()

	// Open the live feed
	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("localhost:%s", port), Path: "/v1/admin/events/live"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	hdr.Set("X-Role", "admin")
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	// Kick off a test event
	treq, _ := http.NewRequest(http.MethodPost, base+"/v1/webhook-test", bytes.NewReader([]byte(`{}`)))
	treq.Header.Set("Content-Type", "application/json")
	treq.Header.Set("X-Tenant-Id", "t_demo")
	treq.Header.Set("X-Role", "admin")
	tresp, err := http.DefaultClient.Do(treq)
	if err != nil {
		log.Fatal(err)
	}
	_ = tresp.Body.Close()

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Printf("feed closed: %v", err)
			return
		}
		fmt.Printf("%s\n", msg)
	}
}
