// Package cli implements the management subcommands that talk to a
// running proxy's control API.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Client is used to interact with the control API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the control API on the given port.
func NewClient(port int) *Client {
	return &Client{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", port),
		httpClient: &http.Client{},
	}
}

// Run executes a management command.
func Run(port int, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("no command provided")
	}

	client := NewClient(port)
	switch command := args[0]; command {
	case "status":
		return client.Status()
	case "purge-all":
		fmt.Print("Are you sure you want to clear the entire cache? [y/N] ")
		var response string
		fmt.Scanln(&response)
		if response == "y" || response == "Y" {
			return client.PurgeAll()
		}
		fmt.Println("Operation cancelled.")
		return nil
	case "shutdown":
		return client.Shutdown()
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func (c *Client) get(path string) ([]byte, error) {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("is cacheproxy running? %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("control API returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (c *Client) post(path string) ([]byte, error) {
	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", nil)
	if err != nil {
		return nil, fmt.Errorf("is cacheproxy running? %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("control API returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// Status fetches /stats and prints it formatted.
func (c *Client) Status() error {
	body, err := c.get("/stats")
	if err != nil {
		return err
	}

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return err
	}
	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}

// PurgeAll clears the running proxy's cache.
func (c *Client) PurgeAll() error {
	body, err := c.post("/purge/all")
	if err != nil {
		return err
	}
	var out struct {
		Purged int `json:"purged"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return err
	}
	fmt.Printf("Purged %d entries.\n", out.Purged)
	return nil
}

// Shutdown asks the running proxy to stop gracefully.
func (c *Client) Shutdown() error {
	if _, err := c.post("/shutdown"); err != nil {
		return err
	}
	fmt.Println("Shutdown initiated.")
	return nil
}
