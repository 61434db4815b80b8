// poll-driver stands in for a production scheduler: it polls registered
// jobs over the waitpoint HTTP API at a fixed cadence until every token
// reaches a terminal status.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

type pollResult struct {
	JobID       string `json:"jobId"`
	Status      string `json:"status"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"maxAttempts"`
	Reconnected bool   `json:"reconnected"`
	Error       string `json:"error"`
}

type tokenRecord struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

type listResponse struct {
	Jobs []tokenRecord `json:"jobs"`
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	baseURL := flag.String("url", "http://localhost:8080", "waitpoint service base URL")
	jobID := flag.String("job", "", "job ID to poll (empty = every POLLING job)")
	interval := flag.Duration("interval", 5*time.Second, "poll cadence")
	apiKey := flag.String("api-key", os.Getenv("API_KEY"), "bearer token for the API")
	timeout := flag.Duration("timeout", 30*time.Minute, "give up after this long")
	flag.Parse()

	d := &driver{
		baseURL: *baseURL,
		apiKey:  *apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}

	if err := d.run(*jobID, *interval, *timeout); err != nil {
		slog.Error("Poll driver failed", "error", err)
		os.Exit(1)
	}
}

type driver struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// run polls until the target set has no POLLING tokens left.
func (d *driver) run(jobID string, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pending, err := d.tick(jobID)
		if err != nil {
			return err
		}
		if pending == 0 {
			slog.Info("All jobs terminal, exiting")
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%d jobs still polling after %s", pending, timeout)
		}
		<-ticker.C
	}
}

// tick polls each target once and returns how many are still POLLING.
func (d *driver) tick(jobID string) (int, error) {
	targets := []string{jobID}
	if jobID == "" {
		var err error
		targets, err = d.pollingJobs()
		if err != nil {
			return 0, err
		}
	}

	pending := 0
	for _, id := range targets {
		res, err := d.poll(id)
		if err != nil {
			return 0, err
		}
		slog.Info("Polled job",
			"jobId", res.JobID,
			"status", res.Status,
			"attempt", res.Attempt,
			"reconnected", res.Reconnected,
		)
		if res.Status == "IN_PROGRESS" {
			pending++
		}
	}
	return pending, nil
}

func (d *driver) pollingJobs() ([]string, error) {
	req, err := http.NewRequest(http.MethodGet, d.baseURL+"/v1/jobs", nil)
	if err != nil {
		return nil, err
	}
	d.authorize(req)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list jobs: unexpected status %d", resp.StatusCode)
	}

	var list listResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, err
	}

	var ids []string
	for _, rec := range list.Jobs {
		if rec.Status == "POLLING" {
			ids = append(ids, rec.JobID)
		}
	}
	return ids, nil
}

func (d *driver) poll(jobID string) (*pollResult, error) {
	url := fmt.Sprintf("%s/v1/jobs/%s/poll", d.baseURL, jobID)
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	d.authorize(req)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll %s: unexpected status %d", jobID, resp.StatusCode)
	}

	var res pollResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (d *driver) authorize(req *http.Request) {
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}
}
