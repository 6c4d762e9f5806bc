// Test harness for the poll dispatch loop against a running kernel
// Usage: go run poll_smoke.go -url=http://localhost:8080 -key=secret -agent=smoke-worker
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

var (
	baseURL = flag.String("url", "http://localhost:8080", "Kernel base URL")
	apiKey  = flag.String("key", "", "API key (empty when auth is disabled)")
	agentID = flag.String("agent", "smoke-worker", "Agent ID to register and poll as")
)

func main() {
	flag.Parse()

	fmt.Printf("Poll smoke test against %s as %s\n\n", *baseURL, *agentID)

	// 1. Register the agent (X-Agent-ID pins the ID, reruns are idempotent)
	fmt.Println("1. Registering agent...")
	request("POST", "/api/agents", map[string]any{
		"name": *agentID,
		"role": "smoke tester",
	})

	// 2. Create a task assigned to the agent
	fmt.Println("\n2. Creating a pending task...")
	body := request("POST", "/api/tasks", map[string]any{
		"task":    "Reply with the word pong",
		"agentId": *agentID,
		"source":  "api",
	})
	var task struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &task); err != nil || task.ID == "" {
		fmt.Println("No task ID in the create response, giving up")
		os.Exit(1)
	}
	fmt.Printf("Task ID: %s\n", task.ID)

	// 3. First poll should deliver a task trigger
	fmt.Println("\n3. Polling (expect a task trigger)...")
	request("GET", "/api/poll", nil)

	// 4. A pending task is re-delivered on every poll until it starts
	fmt.Println("\n4. Polling again (expect the same task trigger)...")
	request("GET", "/api/poll", nil)

	// 5. Start the task; polls go quiet while work is in progress
	fmt.Println("\n5. Starting the task, polling again (expect no trigger)...")
	request("POST", "/api/tasks/"+task.ID+"/start", nil)
	request("GET", "/api/poll", nil)

	// 6. Complete the task so reruns start from a clean slate
	fmt.Println("\n6. Completing the task...")
	request("POST", "/api/tasks/"+task.ID+"/complete", map[string]any{
		"output": "pong",
	})

	fmt.Println("\n=== Poll smoke test complete ===")
}

func request(method, path string, payload any) []byte {
	var body io.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		fmt.Printf(">>> %s %s %s\n", method, path, string(data))
		body = bytes.NewReader(data)
	} else {
		fmt.Printf(">>> %s %s\n", method, path)
	}

	req, err := http.NewRequest(method, *baseURL+path, body)
	if err != nil {
		fmt.Printf("Bad request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-ID", *agentID)
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	fmt.Printf("<<< %d %s\n", resp.StatusCode, string(data))
	return data
}
