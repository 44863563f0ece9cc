// Command client is a minimal CLI exerciser for the wire protocol: it
// places, cancels, or modifies one order and prints every report the
// server sends back.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/saiputravu/fenrir-core/internal/wire"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "address of the exchange server")
	action := flag.String("action", "place", "action to perform: place, cancel, modify")

	userID := flag.String("user", "", "user id (required)")
	accountID := flag.String("account", "", "account id (defaults to user id)")
	clientOrderID := flag.String("client-order-id", "", "client order id (required for place)")
	symbol := flag.String("symbol", "BTC-USD", "instrument symbol")
	side := flag.String("side", "BUY", "BUY or SELL")
	orderType := flag.String("type", "LIMIT", "LIMIT or MARKET")
	tif := flag.String("tif", "GTC", "GTC, IOC, or FOK")
	quantity := flag.String("qty", "1", "quantity, as an exact decimal string")
	price := flag.String("price", "", "limit price, as an exact decimal string (omit for MARKET)")
	orderID := flag.String("order-id", "", "order id (required for cancel/modify)")

	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "Error: -user is required.")
		flag.Usage()
		os.Exit(1)
	}
	if *accountID == "" {
		*accountID = *userID
	}

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("connected to %s as %q\n", *serverAddr, *userID)

	go readReports(conn)

	var payload []byte
	switch strings.ToLower(*action) {
	case "place":
		payload = wire.EncodeNewOrder(wire.NewOrderMessage{
			InstrumentSymbol: *symbol,
			Side:             strings.ToUpper(*side),
			Type:             strings.ToUpper(*orderType),
			TimeInForce:      strings.ToUpper(*tif),
			Quantity:         *quantity,
			Price:            *price,
			ClientOrderID:    *clientOrderID,
			UserID:           *userID,
			AccountID:        *accountID,
		})
	case "cancel":
		if *orderID == "" {
			log.Fatal("Error: -order-id is required for cancel")
		}
		payload = wire.EncodeCancelOrder(wire.CancelOrderMessage{InstrumentSymbol: *symbol, OrderID: *orderID, UserID: *userID})
	case "modify":
		if *orderID == "" {
			log.Fatal("Error: -order-id is required for modify")
		}
		payload = wire.EncodeModifyOrder(wire.ModifyOrderMessage{InstrumentSymbol: *symbol, OrderID: *orderID, Quantity: *quantity, Price: *price, UserID: *userID})
	default:
		log.Fatalf("unknown action: %s", *action)
	}

	if _, err := conn.Write(payload); err != nil {
		log.Fatalf("failed to send request: %v", err)
	}
	fmt.Println("-> request sent")

	fmt.Println("listening for reports... (press Ctrl+C to exit)")
	select {}
}

func readReports(conn net.Conn) {
	buf := make([]byte, 4*1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			log.Printf("connection lost: %v", err)
			os.Exit(0)
		}
		report, err := wire.DecodeReport(buf[:n])
		if err != nil {
			log.Printf("error decoding report: %v", err)
			continue
		}
		printReport(report)
	}
}

func printReport(r wire.Report) {
	switch r.Kind {
	case wire.ReportError:
		fmt.Printf("[%s] ERROR: %s\n", time.Now().Format(time.RFC3339), r.Err)
	case wire.ReportTrade:
		fmt.Printf("[%s] TRADE order=%s side=%s qty=%s price=%s counterparty=%s\n",
			time.Now().Format(time.RFC3339), r.OrderID, r.Side, r.Quantity, r.Price, r.Counterparty)
	default:
		fmt.Printf("[%s] %s order=%s side=%s remaining=%s\n",
			time.Now().Format(time.RFC3339), r.Status, r.OrderID, r.Side, r.Quantity)
	}
}
