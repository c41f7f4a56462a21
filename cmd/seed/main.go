package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/predictions/internal/config"
	"github.com/xtrntr/predictions/internal/logging"
	"github.com/xtrntr/predictions/internal/models"
)

const password = "southpark"

type seedOrder struct {
	user      string
	direction models.Direction
	price     string
	amount    int64
}

// The demo market: Cartman shorts, Stan rests a low bid, Kenny and Butters
// cross, and Kyle takes what Cartman has left
var demo = []seedOrder{
	{user: "Cartman", direction: models.Sell, price: "0.60", amount: 50},
	{user: "Stan", direction: models.Buy, price: "0.40", amount: 30},
	{user: "Kenny", direction: models.Buy, price: "0.65", amount: 20},
	{user: "Butters", direction: models.Sell, price: "0.35", amount: 10},
	{user: "Kyle", direction: models.Buy, price: "0.60", amount: 30},
}

type client struct {
	base string
	http *http.Client
}

func (c *client) post(path, token string, body, out interface{}) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, bytes.TrimSpace(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

// login registers username if needed and returns a token
func (c *client) login(username string) (string, error) {
	creds := map[string]string{"username": username, "password": password}
	if status, err := c.post("/auth/register", "", creds, nil); err != nil && status != http.StatusConflict {
		return "", err
	}

	var resp struct {
		Token string `json:"token"`
	}
	if _, err := c.post("/auth/login", "", creds, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// Seed a running server with the demo market through its HTTP API
func main() {
	log, err := logging.New("info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := loadSeedConfig()
	if err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	if err := seed(&client{base: cfg.baseURL, http: &http.Client{Timeout: 10 * time.Second}}, cfg.resolver, cfg.resolve, log); err != nil {
		log.Fatalw("seed failed", "error", err)
	}
}

type seedConfig struct {
	baseURL  string
	resolver string
	resolve  bool
}

func loadSeedConfig() (seedConfig, error) {
	var cfg seedConfig
	var err error
	if cfg.baseURL, err = config.GetEnv("SEED_API_URL", "http://localhost:8080"); err != nil {
		return cfg, err
	}
	if cfg.resolver, err = config.GetEnv("SEED_RESOLVER", "Cartman"); err != nil {
		return cfg, err
	}
	if cfg.resolve, err = config.GetEnv("SEED_RESOLVE", true); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func seed(c *client, resolver string, resolve bool, log *zap.SugaredLogger) error {
	tokens := make(map[string]string)
	for _, user := range []string{"Cartman", "Stan", "Kenny", "Butters", "Kyle", resolver} {
		if _, ok := tokens[user]; ok {
			continue
		}
		token, err := c.login(user)
		if err != nil {
			return fmt.Errorf("failed to log in %s: %w", user, err)
		}
		tokens[user] = token
	}

	var market models.MarketSnapshot
	if _, err := c.post("/markets", tokens[resolver], map[string]string{"question": "Will Kyle start a war?"}, &market); err != nil {
		return err
	}
	log.Infow("market opened", "market_id", market.ID, "question", market.Question)

	for _, o := range demo {
		var resp struct {
			Trades []models.Trade `json:"trades"`
		}
		body := map[string]interface{}{
			"direction": o.direction,
			"side":      models.Yes,
			"price":     o.price,
			"amount":    o.amount,
		}
		if _, err := c.post("/markets/"+market.ID+"/orders", tokens[o.user], body, &resp); err != nil {
			return err
		}
		log.Infow("order placed", "user", o.user, "direction", o.direction, "price", o.price, "amount", o.amount, "trades", len(resp.Trades))
	}

	if !resolve {
		return nil
	}

	var resolved struct {
		FinalBalances map[string]decimal.Decimal `json:"final_balances"`
	}
	if _, err := c.post("/markets/"+market.ID+"/resolve", tokens[resolver], map[string]int{"outcome": 1}, &resolved); err != nil {
		return err
	}
	for user, balance := range resolved.FinalBalances {
		log.Infow("final balance", "user", user, "balance", balance.String())
	}
	return nil
}
