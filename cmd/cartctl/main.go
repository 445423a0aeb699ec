// cartctl is a CLI for driving a running cartd.
// Each command performs a single operation, making it composable for scripts.
//
// Commands:
//
//	cartctl get
//	cartctl add -product ID -price 25.00 -stock N [-qty N] [-size S] [-color C] [-sku SKU]
//	cartctl update -key KEY -qty N
//	cartctl remove -key KEY
//	cartctl save -key KEY
//	cartctl move -key KEY
//	cartctl coupon -code CODE -discount N [-type percentage|fixed] [-scope cart|shipping]
//	cartctl coupon -remove
//	cartctl totals
//	cartctl login -user ID [-token TOKEN]
//
// Examples:
//
//	cartctl add -server http://localhost:8080 -product shirt -price 25.00 -stock 5 -qty 2
//	cartctl coupon -code SAVE10 -discount 10
//	cartctl login -user u-1 -token "$TOKEN"
//	cartctl totals -q
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"storefront-cart/internal/model"
	"storefront-cart/internal/session"
)

var client = &http.Client{Timeout: 30 * time.Second}

// Global flags (apply to all commands)
var (
	serverURL string
	quiet     bool
	noColor   bool
	verbose   bool
	userID    string // sent as Shopper-Session when set
	token     string
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		disableColors()
	}
}

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorCyan, colorGray, colorBold = "", "", ""
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "get":
		runGet(args)
	case "add":
		runAdd(args)
	case "update":
		runUpdate(args)
	case "remove":
		runKeyed("remove", "DELETE", "/cart/items/%s", "Item removed", args)
	case "save":
		runKeyed("save", "POST", "/cart/items/%s/save", "Item saved for later", args)
	case "move":
		runKeyed("move", "POST", "/cart/saved/%s/move", "Item moved to cart", args)
	case "coupon":
		runCoupon(args)
	case "totals":
		runTotals(args)
	case "login":
		runLogin(args)
	case "-h", "-help", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `cartctl - storefront cart service client

Usage:
  cartctl <command> [options]

Commands:
  get       Show the cart
  add       Add a product to the cart
  update    Set the quantity of a cart line
  remove    Remove a cart line
  save      Move a cart line to saved-for-later
  move      Move a saved item back to the cart
  coupon    Apply or remove the coupon
  totals    Show estimated totals
  login     Start a shopper session (merges the cart on first login)

Examples:
  # Add two shirts, priced in dollars
  cartctl add -product shirt -price 25.00 -stock 5 -qty 2

  # Variant lines are addressed by key
  cartctl update -key "shirt@sku:SHIRT-M" -qty 3

  # Apply a 10%% coupon and show the total only
  cartctl coupon -code SAVE10 -discount 10
  cartctl totals -q

Run 'cartctl <command> -h' for command-specific options.
`)
}

// newFlagSet registers the global flags on a command's flag set.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&serverURL, "server", envOr("CARTD_URL", "http://localhost:8080"), "cartd base URL")
	fs.BoolVar(&quiet, "q", false, "Quiet mode - only output the key value")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&verbose, "v", false, "Verbose - show full request/response")
	fs.StringVar(&userID, "as", os.Getenv("CARTD_USER"), "Act as this shopper (sends Shopper-Session with -token)")
	fs.StringVar(&token, "token", os.Getenv("CARTD_TOKEN"), "Shopper bearer token")
	return fs
}

func parse(fs *flag.FlagSet, args []string) {
	fs.Parse(args)
	if noColor {
		disableColors()
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

func runGet(args []string) {
	fs := newFlagSet("get")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cartctl get [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parse(fs, args)

	resp, err := doRequest("GET", "/cart", nil)
	if err != nil {
		fatal("Failed to get cart: %v", err)
	}
	printCart(resp)
}

func runAdd(args []string) {
	fs := newFlagSet("add")
	var productID, name, price, size, color, sku string
	var qty, stock int
	fs.StringVar(&productID, "product", "", "Product ID (required)")
	fs.StringVar(&name, "name", "", "Product name")
	fs.StringVar(&price, "price", "", "Unit price in major units, e.g. 25.00 (required)")
	fs.IntVar(&qty, "qty", 1, "Quantity")
	fs.IntVar(&stock, "stock", 0, "Units in stock (required)")
	fs.StringVar(&size, "size", "", "Variant size")
	fs.StringVar(&color, "color", "", "Variant color")
	fs.StringVar(&sku, "sku", "", "Variant SKU")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cartctl add -product ID -price P -stock N [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parse(fs, args)

	if productID == "" || price == "" || stock <= 0 {
		fs.Usage()
		os.Exit(1)
	}

	item := model.LineItem{
		ProductID: productID,
		Name:      name,
		Price:     model.ParseCents(price),
		Quantity:  qty,
		Stock:     stock,
	}
	if size != "" || color != "" || sku != "" {
		item.Variant = &model.Variant{Size: size, Color: color, SKU: sku}
	}

	resp, err := doRequest("POST", "/cart/items", item)
	if err != nil {
		fatal("Failed to add item: %v", err)
	}
	printSuccess("Added %s (key %s)", productID, item.Key())
	printCart(resp)
}

func runUpdate(args []string) {
	fs := newFlagSet("update")
	var key string
	var qty int
	fs.StringVar(&key, "key", "", "Item key (required)")
	fs.IntVar(&qty, "qty", -1, "New quantity, 0 removes (required)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cartctl update -key KEY -qty N [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parse(fs, args)

	if key == "" || qty < 0 {
		fs.Usage()
		os.Exit(1)
	}

	resp, err := doRequest("PATCH", "/cart/items/"+url.PathEscape(key), map[string]int{"quantity": qty})
	if err != nil {
		fatal("Failed to update item: %v", err)
	}
	printSuccess("Quantity set to %d", qty)
	printCart(resp)
}

// runKeyed runs a command whose only argument is an item key.
func runKeyed(name, method, pathFmt, done string, args []string) {
	fs := newFlagSet(name)
	var key string
	fs.StringVar(&key, "key", "", "Item key (required)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cartctl %s -key KEY [options]\n\nOptions:\n", name)
		fs.PrintDefaults()
	}
	parse(fs, args)

	if key == "" {
		fs.Usage()
		os.Exit(1)
	}

	resp, err := doRequest(method, fmt.Sprintf(pathFmt, url.PathEscape(key)), nil)
	if err != nil {
		fatal("Failed to %s item: %v", name, err)
	}
	printSuccess("%s", done)
	printCart(resp)
}

func runCoupon(args []string) {
	fs := newFlagSet("coupon")
	var code, discountType, scope string
	var discount int64
	var remove bool
	fs.StringVar(&code, "code", "", "Coupon code")
	fs.Int64Var(&discount, "discount", 0, "Percent for percentage coupons, cents for fixed")
	fs.StringVar(&discountType, "type", string(model.DiscountPercentage), "percentage or fixed")
	fs.StringVar(&scope, "scope", string(model.ScopeCart), "cart or shipping")
	fs.BoolVar(&remove, "remove", false, "Remove the applied coupon")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cartctl coupon -code CODE -discount N [options] | cartctl coupon -remove\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parse(fs, args)

	var resp map[string]interface{}
	var err error
	switch {
	case remove:
		resp, err = doRequest("DELETE", "/cart/coupon", nil)
	case code != "":
		resp, err = doRequest("PUT", "/cart/coupon", model.Coupon{
			Code:  code,
			Value: discount,
			Type:  model.DiscountType(discountType),
			Scope: model.CouponScope(scope),
		})
	default:
		fs.Usage()
		os.Exit(1)
	}
	if err != nil {
		fatal("Coupon request failed: %v", err)
	}
	printSuccess("Coupon updated")
	printCart(resp)
}

func runTotals(args []string) {
	fs := newFlagSet("totals")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cartctl totals [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parse(fs, args)

	resp, err := doRequest("GET", "/cart/totals", nil)
	if err != nil {
		fatal("Failed to get totals: %v", err)
	}

	if quiet {
		fmt.Println(formatCents(resp["total"]))
		return
	}
	printTotals(resp)
}

func runLogin(args []string) {
	fs := newFlagSet("login")
	var user string
	fs.StringVar(&user, "user", "", "Shopper user ID (required)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cartctl login -user ID [-token TOKEN] [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parse(fs, args)

	if user == "" {
		fs.Usage()
		os.Exit(1)
	}
	// With a token the session travels in the header, so the server merges
	// before routing. Without one the user ID goes in the body.
	var body interface{}
	if token != "" {
		userID = user
	} else {
		body = map[string]string{"userId": user}
	}

	resp, err := doRequest("POST", "/session", body)
	if err != nil {
		fatal("Login failed: %v", err)
	}

	if quiet {
		fmt.Println(user)
		return
	}
	printSuccess("Logged in as %s", user)
	if c, ok := resp["cart"].(map[string]interface{}); ok {
		printCart(c)
	}
}

// =============================================================================
// HTTP
// =============================================================================

func doRequest(method, path string, body interface{}) (map[string]interface{}, error) {
	var reqBody io.Reader
	var reqJSON []byte

	if body != nil {
		var err error
		reqJSON, err = json.MarshalIndent(body, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(reqJSON)
	}

	reqURL := strings.TrimSuffix(serverURL, "/") + path
	req, err := http.NewRequest(method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if userID != "" && token != "" {
		header, err := session.FormatHeader(session.Session{UserID: userID, Token: token})
		if err != nil {
			return nil, fmt.Errorf("building session header: %w", err)
		}
		req.Header.Set(session.Header, header)
	}

	if !quiet {
		printRequest(method, path, reqJSON)
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)

	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if !quiet {
		printResponse(resp.StatusCode, respBody, duration)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorMessage(respBody))
	}

	result := map[string]interface{}{}
	if len(respBody) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	return result, nil
}

// errorMessage pulls the message out of an {"error":{...}} envelope.
func errorMessage(body []byte) string {
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Error.Code == "" {
		return string(body)
	}
	return env.Error.Code + ": " + env.Error.Message
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func printCart(resp map[string]interface{}) {
	if quiet {
		fmt.Println(resp["itemCount"])
		return
	}

	items, _ := resp["items"].([]interface{})
	fmt.Printf("\n%sCart%s (%v items)\n", colorBold, colorReset, resp["itemCount"])
	for _, it := range items {
		item, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		fmt.Printf("  - %s x%v @ %s%s\n",
			item["productId"], item["quantity"], formatCents(item["price"]), variantLabel(item))
	}

	if saved, ok := resp["savedForLater"].([]interface{}); ok && len(saved) > 0 {
		fmt.Printf("  %sSaved for later:%s %d\n", colorGray, colorReset, len(saved))
	}
	if pending, ok := resp["pending"].(map[string]interface{}); ok && len(pending) > 0 {
		for key, op := range pending {
			fmt.Printf("  %s… %s pending %v%s\n", colorYellow, key, op, colorReset)
		}
	}
	if totals, ok := resp["totals"].(map[string]interface{}); ok {
		printTotals(totals)
	}
}

func printTotals(t map[string]interface{}) {
	fmt.Printf("  Subtotal: %s\n", formatCents(t["subtotal"]))
	if d, ok := t["discount"].(float64); ok && d > 0 {
		fmt.Printf("  Discount: -%s\n", formatCents(d))
	}
	fmt.Printf("  Shipping: %s\n", formatCents(t["shipping"]))
	fmt.Printf("  Tax (est): %s\n", formatCents(t["tax"]))
	fmt.Printf("  Total: %s%s%s\n", colorGreen, formatCents(t["total"]), colorReset)
	if fs, ok := t["freeShipping"].(map[string]interface{}); ok {
		if unlocked, _ := fs["unlocked"].(bool); !unlocked {
			fmt.Printf("  %s%s more for free shipping%s\n", colorCyan, formatCents(fs["remaining"]), colorReset)
		}
	}
}

func variantLabel(item map[string]interface{}) string {
	v, ok := item["variant"].(map[string]interface{})
	if !ok {
		return ""
	}
	var parts []string
	for _, k := range []string{"size", "color", "sku"} {
		if s, _ := v[k].(string); s != "" {
			parts = append(parts, k+"="+s)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf(" %s(%s)%s", colorGray, strings.Join(parts, ", "), colorReset)
}

func printRequest(method, path string, body []byte) {
	fmt.Printf("\n%s▶ REQUEST%s %s%s %s%s\n", colorYellow, colorReset, colorBold, method, path, colorReset)
	if body != nil {
		printJSON(body, "  ")
	}
}

func printResponse(status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Printf("\n%s◀ RESPONSE%s %s%d%s (%v)\n", colorCyan, colorReset, statusColor, status, colorReset, duration)
	printJSON(body, "  ")
}

func printJSON(data []byte, prefix string) {
	if len(data) == 0 {
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Printf("%s%s\n", prefix, string(data))
		return
	}

	output := pretty.String()
	if !verbose {
		lines := strings.Split(output, "\n")
		if len(lines) > 30 {
			lines = append(lines[:25], fmt.Sprintf("%s  %s(%d more lines, use -v for full output)%s", prefix, colorGray, len(lines)-25, colorReset))
			output = strings.Join(lines, "\n")
		}
	}
	fmt.Println(output)
}

func printSuccess(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func formatCents(v interface{}) string {
	switch val := v.(type) {
	case float64:
		return "$" + model.FormatCents(int64(val))
	case int64:
		return "$" + model.FormatCents(val)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}
