package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

type settings struct {
	BaseURL       string `env:"CANTEEN_URL" envDefault:"http://localhost:8080"`
	InitialStock  int    `env:"STRESS_STOCK" envDefault:"20"`
	TotalRequests int    `env:"STRESS_REQUESTS" envDefault:"50"`
}

type mealView struct {
	UnitsLeft *int `json:"units_left"`
}

func main() {
	var s settings
	if err := env.Parse(&s); err != nil {
		log.Fatalf("invalid settings: %v", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	mealID := "stress-" + uuid.NewString()[:8]

	// Create a meal with limited stock
	status, err := send(client, http.MethodPost, s.BaseURL+"/api/admin/meals", "stress-admin", true, map[string]any{
		"id":              mealID,
		"name":            "Stress Test Stew",
		"category":        "Main Course",
		"price":           "100",
		"max_per_person":  1,
		"units_available": s.InitialStock,
	}, nil)
	if err != nil || status != http.StatusCreated {
		log.Fatalf("failed to create meal: status=%d err=%v", status, err)
	}

	// Counters
	var placed, soldOut, failed atomic.Int32

	// Spawn concurrent checkouts
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < s.TotalRequests; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()

			status, err := send(client, http.MethodPost, s.BaseURL+"/api/orders", fmt.Sprintf("user-%d", userID), false, map[string]any{
				"items": []map[string]any{{"meal_id": mealID, "quantity": 1}},
			}, nil)
			switch {
			case err != nil:
				failed.Add(1)
			case status == http.StatusCreated:
				placed.Add(1)
			case status == http.StatusConflict:
				soldOut.Add(1)
			default:
				failed.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	expectedPlaced := min(s.InitialStock, s.TotalRequests)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Meal:             %s\n", mealID)
	fmt.Printf("Initial Stock:    %d\n", s.InitialStock)
	fmt.Printf("Total Requests:   %d\n", s.TotalRequests)
	fmt.Printf("Placed:           %d\n", placed.Load())
	fmt.Printf("Sold Out:         %d\n", soldOut.Load())
	fmt.Printf("Errors:           %d\n", failed.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if int(placed.Load()) == expectedPlaced && int(soldOut.Load()) == s.TotalRequests-expectedPlaced {
		fmt.Printf("PASS: exactly %d orders placed\n", expectedPlaced)
	} else {
		fmt.Printf("FAIL: expected %d placed/%d sold out, got %d/%d\n",
			expectedPlaced, s.TotalRequests-expectedPlaced, placed.Load(), soldOut.Load())
	}

	// Verify the remaining stock
	var meal mealView
	if _, err := send(client, http.MethodGet, s.BaseURL+"/api/meals/"+mealID, "", false, nil, &meal); err != nil || meal.UnitsLeft == nil {
		fmt.Printf("FAIL: could not read remaining stock: %v\n", err)
		return
	}
	fmt.Printf("Units Left: %d\n", *meal.UnitsLeft)
	if *meal.UnitsLeft == s.InitialStock-expectedPlaced {
		fmt.Println("PASS: stock accounted for")
	} else {
		fmt.Printf("FAIL: expected %d units left, got %d\n", s.InitialStock-expectedPlaced, *meal.UnitsLeft)
	}
}

func send(client *http.Client, method, url, userID string, admin bool, body, out any) (int, error) {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		payload = raw
	}

	req, err := http.NewRequest(method, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if admin {
		req.Header.Set("X-Kitchen-Admin", "true")
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
