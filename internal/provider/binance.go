package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tidwall/gjson"

	"mcphub/internal/hub"
)

const binanceAPIBase = "https://api.binance.com"

// Binance is the crypto exchange integration. The credential is a JSON
// document holding the user's api_key and api_secret; account endpoints
// are HMAC-SHA256 signed with the secret.
type Binance struct{}

func NewBinance() *Binance { return &Binance{} }

func (b *Binance) Name() string           { return "binance" }
func (b *Binance) DisplayName() string    { return "Binance" }
func (b *Binance) Description() string    { return "Cryptocurrency exchange spot trading and market data" }
func (b *Binance) AuthType() hub.AuthType { return hub.AuthTypeAPIKey }

func (b *Binance) Tools() []mcp.Tool {
	return []mcp.Tool{
		newTool("binance.market.ticker", "Get 24h price statistics for a symbol, or all symbols when omitted",
			stringArg("symbol", "Trading pair, e.g. BTCUSDT"),
		),
		newTool("binance.market.klines", "Get candlestick data for a symbol",
			requiredString("symbol", "Trading pair, e.g. BTCUSDT"),
			enumArg("interval", "Candle interval", "1m", "5m", "15m", "1h", "4h", "1d", "1w"),
			intArg("limit", "Number of candles", 100),
		),
		newTool("binance.market.depth", "Get order book depth for a symbol",
			requiredString("symbol", "Trading pair, e.g. BTCUSDT"),
			intArg("limit", "Depth levels", 50),
		),
		newTool("binance.account.portfolio", "Get account balances (signed)"),
		newTool("binance.account.open_orders", "List open orders (signed)",
			stringArg("symbol", "Restrict to one trading pair"),
		),
		newTool("binance.trade.order_status", "Get the status of an order (signed)",
			requiredString("symbol", "Trading pair"),
			requiredInt("order_id", "Order ID"),
		),
	}
}

type binanceKeys struct {
	apiKey    string
	apiSecret string
}

func parseBinanceCredential(cred Credential) (binanceKeys, error) {
	keys := binanceKeys{
		apiKey:    gjson.Get(cred.Secret.Value(), "api_key").String(),
		apiSecret: gjson.Get(cred.Secret.Value(), "api_secret").String(),
	}
	if keys.apiKey == "" || keys.apiSecret == "" {
		return binanceKeys{}, hub.NewProviderError("binance", 0, fmt.Errorf("credential missing api_key or api_secret"))
	}
	return keys, nil
}

// sign appends the millisecond timestamp and HMAC-SHA256 signature that
// Binance requires on account endpoints. The signature must cover the
// query string exactly as sent, with the signature parameter itself
// last, so the raw encoded form is returned.
func (k binanceKeys) sign(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	encoded := params.Encode()
	mac := hmac.New(sha256.New, []byte(k.apiSecret))
	mac.Write([]byte(encoded))
	return encoded + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

func (b *Binance) Execute(ctx context.Context, tool string, args map[string]any, cred Credential) (string, error) {
	keys, err := parseBinanceCredential(cred)
	if err != nil {
		return "", err
	}
	client := &apiClient{
		provider: b.Name(),
		baseURL:  binanceAPIBase,
		headers: map[string]string{
			"X-MBX-APIKEY": keys.apiKey,
		},
	}

	switch tool {
	case "binance.market.ticker":
		q := url.Values{}
		if symbol := strVal(args, "symbol", ""); symbol != "" {
			q.Set("symbol", strings.ToUpper(symbol))
		}
		result, err := client.get(ctx, "/api/v3/ticker/24hr", q)
		return result.Raw, err

	case "binance.market.klines":
		q := url.Values{
			"symbol":   {strings.ToUpper(strVal(args, "symbol", ""))},
			"interval": {strVal(args, "interval", "1h")},
			"limit":    {strconv.Itoa(intVal(args, "limit", 100))},
		}
		result, err := client.get(ctx, "/api/v3/klines", q)
		return result.Raw, err

	case "binance.market.depth":
		q := url.Values{
			"symbol": {strings.ToUpper(strVal(args, "symbol", ""))},
			"limit":  {strconv.Itoa(intVal(args, "limit", 50))},
		}
		result, err := client.get(ctx, "/api/v3/depth", q)
		return result.Raw, err

	case "binance.account.portfolio":
		result, err := client.getRaw(ctx, "/api/v3/account", keys.sign(url.Values{}))
		return result.Raw, err

	case "binance.account.open_orders":
		q := url.Values{}
		if symbol := strVal(args, "symbol", ""); symbol != "" {
			q.Set("symbol", strings.ToUpper(symbol))
		}
		result, err := client.getRaw(ctx, "/api/v3/openOrders", keys.sign(q))
		return result.Raw, err

	case "binance.trade.order_status":
		q := url.Values{
			"symbol":  {strings.ToUpper(strVal(args, "symbol", ""))},
			"orderId": {strconv.Itoa(intVal(args, "order_id", 0))},
		}
		result, err := client.getRaw(ctx, "/api/v3/order", keys.sign(q))
		return result.Raw, err
	}
	return "", unknownTool(b.Name(), tool)
}
