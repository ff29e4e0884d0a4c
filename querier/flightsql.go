package querier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/flight"
	flightgen "github.com/apache/arrow/go/v14/arrow/flight/gen/flight"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/gigapi/gigapi-insitu/core"
	"github.com/gigapi/gigapi-insitu/insitu"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// FlightCommand is the descriptor command accepted by GetFlightInfo. It is
// sent as JSON, either raw or as the value of a protobuf Any.
type FlightCommand struct {
	Dataset string          `json:"dataset"`
	Query   json.RawMessage `json:"query"`
}

// DefaultTicketTTL is how long a parked result waits for its DoGet.
const DefaultTicketTTL = 5 * time.Minute

type parkedResult struct {
	rec     arrow.Record
	expires time.Time
}

// FlightServer serves query pages as Arrow Flight streams. GetFlightInfo runs
// the query and parks the record under a ticket; DoGet streams it once.
// Tickets not fetched within TicketTTL are released on the next GetFlightInfo.
type FlightServer struct {
	flightgen.UnimplementedFlightServiceServer
	client    Client
	mem       memory.Allocator
	TicketTTL time.Duration
	now       func() time.Time

	results     map[string]parkedResult
	resultsLock sync.Mutex
	seq         atomic.Int64
}

// NewFlightServer creates a new Flight server instance
func NewFlightServer(client Client) *FlightServer {
	return &FlightServer{
		client:    client,
		mem:       memory.DefaultAllocator,
		TicketTTL: DefaultTicketTTL,
		now:       time.Now,
		results:   make(map[string]parkedResult),
	}
}

// decodeCommand reads a FlightCommand from raw JSON or a protobuf Any
// wrapping JSON. A missing dataset falls back to the "dataset" metadata key.
func decodeCommand(ctx context.Context, cmd []byte) (*FlightCommand, error) {
	payload := bytes.TrimSpace(cmd)
	if len(payload) == 0 || payload[0] != '{' {
		msg := &anypb.Any{}
		if err := proto.Unmarshal(cmd, msg); err != nil {
			return nil, core.ErrValidation("cmd", "failed to unmarshal command: %v", err)
		}
		payload = msg.Value
	}

	var c FlightCommand
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, core.ErrValidation("cmd", "malformed command: %v", err)
	}
	if c.Dataset == "" {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ds := md.Get("dataset"); len(ds) > 0 {
				c.Dataset = ds[0]
			}
		}
	}
	if len(c.Query) == 0 {
		return nil, core.ErrValidation("query", "is required")
	}
	return &c, nil
}

func grpcError(err error) error {
	switch StatusCode(err) {
	case http.StatusBadRequest:
		return status.Error(codes.InvalidArgument, err.Error())
	case http.StatusServiceUnavailable:
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// GetFlightInfo implements the FlightService interface
func (s *FlightServer) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	ctx = core.WithDefaultLogger(ctx, fmt.Sprintf("flight-%d", atomic.AddInt32(&reqId, 1)))
	if desc.Type != flight.DescriptorCMD {
		return nil, status.Errorf(codes.InvalidArgument, "unsupported flight descriptor type: %v", desc.Type)
	}

	cmd, err := decodeCommand(ctx, desc.Cmd)
	if err != nil {
		return nil, grpcError(err)
	}
	params, err := insitu.ParseQueryJSON(cmd.Query)
	if err != nil {
		return nil, grpcError(err)
	}

	res, err := s.client.Query(ctx, cmd.Dataset, params)
	if err != nil {
		core.Errorf(ctx, "Query execution failed: %v", err)
		return nil, grpcError(err)
	}
	rec := convertResultsToArrow(ctx, s.mem, res.Columns, res.Rows)

	now := s.now()
	ticketID := fmt.Sprintf("query-%d-%d", now.UnixNano(), s.seq.Add(1))
	s.resultsLock.Lock()
	if n := s.sweep(now); n > 0 {
		core.Warnf(ctx, "Released %d expired flight tickets", n)
	}
	s.results[ticketID] = parkedResult{rec: rec, expires: now.Add(s.TicketTTL)}
	s.resultsLock.Unlock()

	core.Debugf(ctx, "Returning flight info with %d of %d records", rec.NumRows(), res.Total)
	return &flight.FlightInfo{
		FlightDescriptor: desc,
		Schema:           flight.SerializeSchema(rec.Schema(), s.mem),
		Endpoint: []*flight.FlightEndpoint{
			{Ticket: &flight.Ticket{Ticket: []byte(ticketID)}},
		},
		TotalRecords: rec.NumRows(),
		TotalBytes:   -1,
	}, nil
}

// DoGet implements the FlightService interface
func (s *FlightServer) DoGet(ticket *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	id := string(ticket.Ticket)
	s.resultsLock.Lock()
	parked, exists := s.results[id]
	delete(s.results, id)
	s.resultsLock.Unlock()

	if !exists {
		return status.Errorf(codes.NotFound, "no results found for ticket: %s", id)
	}
	rec := parked.rec
	defer rec.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		return fmt.Errorf("failed to write record batch: %w", err)
	}
	return writer.Close()
}

// ListFlights announces one path descriptor per dataset.
func (s *FlightServer) ListFlights(criteria *flight.Criteria, stream flight.FlightService_ListFlightsServer) error {
	datasets, err := s.client.Datasets(stream.Context())
	if err != nil {
		return grpcError(err)
	}
	for _, ds := range datasets {
		err := stream.Send(&flight.FlightInfo{
			FlightDescriptor: &flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{ds}},
			TotalRecords:     -1,
			TotalBytes:       -1,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Handshake echoes the payload back; no authentication is performed.
func (s *FlightServer) Handshake(stream flight.FlightService_HandshakeServer) error {
	for {
		req, err := stream.Recv()
		if err != nil {
			return err
		}
		if err := stream.Send(&flight.HandshakeResponse{Payload: req.Payload}); err != nil {
			return err
		}
	}
}

// sweep releases the results whose ticket expired before now. The caller
// holds resultsLock.
func (s *FlightServer) sweep(now time.Time) int {
	n := 0
	for id, p := range s.results {
		if now.After(p.expires) {
			p.rec.Release()
			delete(s.results, id)
			n++
		}
	}
	return n
}

// pending returns the number of tickets not fetched yet.
func (s *FlightServer) pending() int {
	s.resultsLock.Lock()
	defer s.resultsLock.Unlock()
	return len(s.results)
}

// StartFlightServer starts the Flight server
func StartFlightServer(port int, client Client) error {
	server := NewFlightServer(client)
	s := grpc.NewServer()
	flightgen.RegisterFlightServiceServer(s, server)
	reflection.Register(s)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	core.Infof(context.Background(), "Flight server listening on port %d", port)
	return s.Serve(lis)
}
