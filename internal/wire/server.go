package wire

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"github.com/saiputravu/fenrir-core/internal/domain"
	"github.com/saiputravu/fenrir-core/internal/orderservice"
)

const (
	maxRecvSize        = 4 * 1024
	defaultNWorkers    = 10
	defaultConnTimeout = 30 * time.Second
)

// clientMessage links a decoded message to the connection it arrived
// on, so a reply can be routed back even before the owning UserID is
// known (the very first message on a connection).
type clientMessage struct {
	conn net.Conn
	body any
}

// Server is the TCP front door for internal/orderservice: it decodes
// wire messages, translates them into PlacementRequest/CancelOrder/
// ModifyRequest calls, and writes back a Report per outcome.
//
// Grounded on the teacher's internal/net.Server: same
// WorkerPool-plus-tomb connection-handling shape, same
// single-goroutine sessionHandler draining a message channel. The
// teacher's Engine interface (PlaceOrder/CancelOrder/LogBook) is
// replaced by *orderservice.Service, and trade/error reporting is
// addressed by UserID (tracked per connection) rather than by raw
// local address string.
type Server struct {
	address string
	port    int
	service *orderservice.Service

	pool   WorkerPool
	cancel context.CancelFunc

	sessionsMu sync.Mutex
	sessions   map[string]net.Conn // userID -> connection

	messages chan clientMessage
}

func New(address string, port int, service *orderservice.Service) *Server {
	return &Server{
		address:  address,
		port:     port,
		service:  service,
		pool:     NewWorkerPool(defaultNWorkers),
		sessions: make(map[string]net.Conn),
		messages: make(chan clientMessage, 64),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("wire server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Server) Run(ctx context.Context) error {
	defer s.Shutdown()
	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("wire: unable to start listener")
		return err
	}
	defer listener.Close()

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})
	t.Go(func() error {
		return s.sessionHandler(t)
	})

	log.Info().Str("address", listener.Addr().String()).Msg("wire server listening")

	for {
		select {
		case <-ctx.Done():
			return t.Wait()
		default:
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return t.Wait()
				default:
					log.Error().Err(err).Msg("wire: error accepting client")
					continue
				}
			}
			s.pool.AddTask(conn)
		}
	}
}

func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case msg := <-s.messages:
			if err := s.handleMessage(msg); err != nil {
				log.Error().Err(err).Msg("wire: error handling message")
				s.writeReport(msg.conn, Report{Kind: ReportError, Err: err.Error()})
			}
		}
	}
}

func (s *Server) handleMessage(msg clientMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultConnTimeout)
	defer cancel()

	switch body := msg.body.(type) {
	case NewOrderMessage:
		s.trackSession(body.UserID, msg.conn)
		req := orderservice.PlacementRequest{
			ClientOrderID:    body.ClientOrderID,
			UserID:           body.UserID,
			AccountID:        body.AccountID,
			InstrumentSymbol: body.InstrumentSymbol,
			Side:             body.Side,
			Type:             body.Type,
			TimeInForce:      body.TimeInForce,
			Quantity:         body.Quantity,
			Price:            body.Price,
		}
		order, trades, err := s.service.PlaceOrder(ctx, req)
		if err != nil {
			return err
		}
		s.reportAcceptance(order)
		s.reportTrades(order, trades)
		return nil

	case CancelOrderMessage:
		s.trackSession(body.UserID, msg.conn)
		if err := s.service.CancelOrder(ctx, body.InstrumentSymbol, domain.OrderID(body.OrderID), body.UserID); err != nil {
			return err
		}
		s.writeReport(msg.conn, Report{Kind: ReportAccepted, OrderID: body.OrderID, Status: domain.Cancelled.String()})
		return nil

	case ModifyOrderMessage:
		s.trackSession(body.UserID, msg.conn)
		order, err := s.service.ModifyOrder(ctx, body.InstrumentSymbol, orderservice.ModifyRequest{
			OrderID:  domain.OrderID(body.OrderID),
			Quantity: body.Quantity,
			Price:    body.Price,
		}, body.UserID)
		if err != nil {
			return err
		}
		s.reportAcceptance(order)
		return nil

	default:
		return nil // heartbeat: nothing to do
	}
}

// reportAcceptance writes the updated order's own status back to its
// owner (working, partially filled, filled, or cancelled).
func (s *Server) reportAcceptance(order *domain.Order) {
	s.sendToUser(order.UserID, Report{
		Kind:     ReportAccepted,
		OrderID:  string(order.ID),
		Status:   order.Status.String(),
		Side:     order.Side.String(),
		Quantity: order.RemainingQuantity().String(),
	})
}

// reportTrades writes one ReportTrade to each side of every trade the
// taker's submission produced.
func (s *Server) reportTrades(taker *domain.Order, trades []*domain.Trade) {
	for _, trade := range trades {
		buyReport := Report{Kind: ReportTrade, OrderID: string(trade.BuyOrderID), Side: domain.Buy.String(), Quantity: trade.Quantity.String(), Price: trade.Price.String(), Counterparty: trade.SellerUserID}
		sellReport := Report{Kind: ReportTrade, OrderID: string(trade.SellOrderID), Side: domain.Sell.String(), Quantity: trade.Quantity.String(), Price: trade.Price.String(), Counterparty: trade.BuyerUserID}
		s.sendToUser(trade.BuyerUserID, buyReport)
		s.sendToUser(trade.SellerUserID, sellReport)
	}
}

func (s *Server) sendToUser(userID string, report Report) {
	s.sessionsMu.Lock()
	conn, ok := s.sessions[userID]
	s.sessionsMu.Unlock()
	if !ok {
		return
	}
	s.writeReport(conn, report)
}

func (s *Server) writeReport(conn net.Conn, report Report) {
	if _, err := conn.Write(EncodeReport(report)); err != nil {
		log.Error().Err(err).Msg("wire: unable to write report")
	}
}

func (s *Server) trackSession(userID string, conn net.Conn) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[userID] = conn
}

// handleConnection reads one message off conn, decodes it, and hands
// it to sessionHandler, then requeues the connection to read its next
// message. A dead connection is dropped rather than requeued.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return fmt.Errorf("wire: unexpected task type %T", task)
	}

	select {
	case <-t.Dying():
		return nil
	default:
	}

	_ = conn.SetReadDeadline(time.Now().Add(defaultConnTimeout))
	buf := make([]byte, maxRecvSize)
	n, err := conn.Read(buf)
	if err != nil {
		log.Info().Err(err).Str("address", conn.RemoteAddr().String()).Msg("wire: connection closed")
		conn.Close()
		return nil
	}

	_, body, err := DecodeMessage(buf[:n])
	if err != nil {
		log.Error().Err(err).Msg("wire: error decoding message")
		s.writeReport(conn, Report{Kind: ReportError, Err: err.Error()})
		s.pool.AddTask(conn)
		return nil
	}

	s.messages <- clientMessage{conn: conn, body: body}
	s.pool.AddTask(conn)
	return nil
}
