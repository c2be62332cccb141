package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"
)

// stationClient is a cookie-holding client for the station API.
type stationClient struct {
	base string
	http *http.Client
}

func newStationClient(base string, timeout time.Duration) *stationClient {
	jar, _ := cookiejar.New(nil)
	return &stationClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Jar: jar, Timeout: timeout},
	}
}

func (c *stationClient) login(user, password string) error {
	resp, err := c.http.PostForm(c.base+"/login", url.Values{"username": {user}, "password": {password}})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return decode(resp, nil)
}

func (c *stationClient) get(path string, result any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return decode(resp, result)
}

func (c *stationClient) post(path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	return decode(resp, result)
}

func (c *stationClient) postForm(path string, form url.Values, result any) error {
	resp, err := c.http.PostForm(c.base+path, form)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	return decode(resp, result)
}

func decode(resp *http.Response, result any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("station: %s (HTTP %d)", e.Error, resp.StatusCode)
		}
		return fmt.Errorf("station: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

// getPassword reads the operator password from the environment or a no-echo prompt.
func getPassword() (string, error) {
	return readSecret("LINETRACK_PASSWORD", "Password: ")
}

// readSecret prefers env, then a no-echo terminal prompt, then a plain line
// from stdin when stdin is not a terminal.
func readSecret(env, prompt string) (string, error) {
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)
	if b, err := term.ReadPassword(int(syscall.Stdin)); err == nil {
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(prompt), ": "), err)
	}
	return strings.TrimSpace(line), nil
}
