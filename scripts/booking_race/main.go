package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/errgroup"
)

type options struct {
	BaseURL    string
	Secret     string
	Issuer     string
	ScheduleID int64
	Date       string
	Riders     int
	FirstUser  int64
	Timeout    time.Duration
}

type outcome struct {
	Status int
	Code   string
}

func main() {
	var opts options
	flag.StringVar(&opts.BaseURL, "base", "http://localhost:8080/api/v1", "API base URL")
	flag.StringVar(&opts.Secret, "secret", os.Getenv("JWT_SECRET"), "JWT signing secret")
	flag.StringVar(&opts.Issuer, "issuer", "hostelsync", "JWT issuer")
	flag.Int64Var(&opts.ScheduleID, "schedule", 0, "schedule id to book")
	flag.StringVar(&opts.Date, "date", "", "booking date YYYY-MM-DD")
	flag.IntVar(&opts.Riders, "riders", 50, "number of concurrent riders")
	flag.Int64Var(&opts.FirstUser, "first-user", 1, "user id of the first rider; riders use consecutive ids")
	flag.DurationVar(&opts.Timeout, "timeout", 10*time.Second, "per-request timeout")
	flag.Parse()

	if opts.ScheduleID <= 0 || opts.Date == "" || opts.Secret == "" {
		flag.Usage()
		os.Exit(2)
	}

	results, err := race(context.Background(), opts)
	if err != nil {
		log.Fatalf("race failed: %v", err)
	}
	report(results)
}

// race fires one booking per rider at the same slot, all at once.
func race(ctx context.Context, opts options) ([]outcome, error) {
	client := &http.Client{Timeout: opts.Timeout}
	body, err := json.Marshal(map[string]interface{}{"scheduleId": opts.ScheduleID, "bookingDate": opts.Date})
	if err != nil {
		return nil, err
	}

	tokens := make([]string, opts.Riders)
	for i := range tokens {
		tokens[i], err = mint(opts, opts.FirstUser+int64(i))
		if err != nil {
			return nil, err
		}
	}

	results := make([]outcome, opts.Riders)
	start := make(chan struct{})
	var ready sync.WaitGroup
	ready.Add(opts.Riders)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Riders; i++ {
		i := i
		g.Go(func() error {
			ready.Done()
			<-start
			res, err := book(gctx, client, opts.BaseURL, tokens[i], body)
			if err != nil {
				return fmt.Errorf("rider %d: %w", opts.FirstUser+int64(i), err)
			}
			results[i] = res
			return nil
		})
	}
	ready.Wait()
	close(start)

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func mint(opts options, userID int64) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    "STUDENT",
		"email":   fmt.Sprintf("rider%d@hostel.test", userID),
		"name":    fmt.Sprintf("Rider %d", userID),
		"iss":     opts.Issuer,
		"iat":     now.Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(opts.Secret))
}

func book(ctx context.Context, client *http.Client, baseURL, token string, body []byte) (outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/transport/bookings", bytes.NewReader(body))
	if err != nil {
		return outcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return outcome{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return outcome{}, err
	}
	var envelope struct {
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(raw, &envelope)

	res := outcome{Status: resp.StatusCode, Code: "CREATED"}
	if envelope.Error != nil {
		res.Code = envelope.Error.Code
	}
	return res, nil
}

func report(results []outcome) {
	counts := make(map[string]int)
	for _, r := range results {
		counts[fmt.Sprintf("%d %s", r.Status, r.Code)]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("%d riders\n", len(results))
	for _, k := range keys {
		fmt.Printf("  %-32s %d\n", k, counts[k])
	}
}
