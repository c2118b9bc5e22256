package router

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"streamrelay/internal/metrics"
	"streamrelay/internal/registry"
	"streamrelay/internal/tracker"
	"streamrelay/pkg/interfaces"
	"streamrelay/pkg/types"
)

// ClosePolicyViolation is the WebSocket close code sent after a failed handshake
const ClosePolicyViolation = 1008

// StreamIDPrefix marks server-generated stream ids
const StreamIDPrefix = "stream_"

// Dispatcher implements interfaces.MessageDispatcher
// ARCHITECTURAL DISCOVERY: Pure routing logic; the transport only reports open,
// inbound bytes and close, and every decision about who receives what lives here
type Dispatcher struct {
	registry       *registry.Registry
	verifier       interfaces.SessionVerifier
	ownership      interfaces.OwnershipChecker
	persister      interfaces.AlertPersister
	toucher        interfaces.StreamToucher
	publisher      interfaces.StatusPublisher
	tracker        *tracker.Tracker
	metrics        *metrics.Metrics
	logger         *zap.Logger
	publishTimeout time.Duration
	newStreamID    func() (string, error)
}

// Option configures optional collaborators
type Option func(*Dispatcher)

// WithOwnershipChecker replaces the default allow-all checker
func WithOwnershipChecker(checker interfaces.OwnershipChecker) Option {
	return func(d *Dispatcher) {
		if checker != nil {
			d.ownership = checker
		}
	}
}

// WithAlertPersister hands every relayed alert to an archive
func WithAlertPersister(persister interfaces.AlertPersister) Option {
	return func(d *Dispatcher) { d.persister = persister }
}

// WithStreamToucher records producer disconnect times
func WithStreamToucher(toucher interfaces.StreamToucher) Option {
	return func(d *Dispatcher) { d.toucher = toucher }
}

// WithStatusPublisher forwards status events outside the process
func WithStatusPublisher(publisher interfaces.StatusPublisher) Option {
	return func(d *Dispatcher) { d.publisher = publisher }
}

func WithTracker(t *tracker.Tracker) Option {
	return func(d *Dispatcher) { d.tracker = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithPublishTimeout bounds each status publish to the external notifier
func WithPublishTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.publishTimeout = timeout
		}
	}
}

// WithStreamIDGenerator overrides how ids are minted for register without a streamId
func WithStreamIDGenerator(fn func() (string, error)) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.newStreamID = fn
		}
	}
}

// NewDispatcher creates a dispatcher over a registry and session verifier
// FUNCTIONAL DISCOVERY: Dependency injection enables testing with fake connections
func NewDispatcher(reg *registry.Registry, verifier interfaces.SessionVerifier, opts ...Option) (*Dispatcher, error) {
	if reg == nil {
		return nil, ErrNilRegistry
	}
	if verifier == nil {
		return nil, ErrNilVerifier
	}

	d := &Dispatcher{
		registry:       reg,
		verifier:       verifier,
		ownership:      interfaces.AllowAll{},
		logger:         zap.NewNop(),
		publishTimeout: 2 * time.Second,
		newStreamID:    generateStreamID,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("router")
	return d, nil
}

// generateStreamID returns a time-ordered unique id
func generateStreamID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return StreamIDPrefix + id.String(), nil
}

// Open records a freshly accepted connection
func (d *Dispatcher) Open(conn interfaces.Connection) {
	d.registry.Track(conn)
	d.metrics.ConnectionOpened()
}

// Dispatch handles one inbound message
// ARCHITECTURAL DISCOVERY: Authentication gate runs on the peeked type before the
// full decode, so an unauthenticated sender never learns anything about message shape
func (d *Dispatcher) Dispatch(ctx context.Context, conn interfaces.Connection, raw []byte) {
	start := time.Now()
	label := "invalid"
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("recovered panic in message handler",
				zap.String("conn_id", conn.ID()), zap.Any("panic", rec), zap.Stack("stack"))
			d.reply(conn, types.NewError(types.CodeRoutingError, messageFor(types.CodeRoutingError)))
		}
		d.metrics.MessageReceived(label, start)
	}()

	msgType, ok := peekType(raw)
	if !ok {
		d.replyErr(conn, types.ErrMissingType)
		return
	}
	label = metricLabel(msgType)

	if msgType == types.MessageTypeAuth {
		d.handleAuth(ctx, conn, raw)
		return
	}

	// FUNCTIONAL DISCOVERY: Every non-auth kind, known or not, needs a session first
	if !conn.IsAuthenticated() {
		d.replyErr(conn, interfaces.ErrUnauthenticated)
		return
	}

	msg, err := types.Decode(raw)
	if err != nil {
		d.replyErr(conn, err)
		return
	}

	switch m := msg.(type) {
	case *types.RegisterMessage:
		err = d.handleRegister(ctx, conn, m)
	case *types.SubscribeMessage:
		err = d.handleSubscribe(ctx, conn, m)
	case *types.VideoFrameMessage:
		err = d.handleVideoFrame(ctx, conn, m, raw)
	case *types.AlertMessage:
		err = d.handleAlert(ctx, conn, m, raw)
	default:
		err = types.ErrUnknownMessageType
	}
	if err != nil {
		d.replyErr(conn, err)
	}
}

// Disconnect unlinks the connection and announces a lost producer
// RACE CONDITION FIX: Offline is only broadcast when this connection held the
// producer slot and nobody replaced it in between
func (d *Dispatcher) Disconnect(ctx context.Context, conn interfaces.Connection) {
	d.metrics.ConnectionClosed()

	heldSlot := false
	if meta, bound := d.registry.Metadata(conn); bound {
		heldSlot = d.registry.GetProducer(meta.StreamID) == conn
	}

	meta := d.registry.RemoveConnection(conn)
	if meta == nil {
		return
	}
	d.logger.Debug("connection unregistered",
		zap.String("conn_id", conn.ID()), zap.String("stream_id", meta.StreamID), zap.String("role", string(meta.Role)))

	if !meta.IsVideoProducer() || !heldSlot || d.registry.GetProducer(meta.StreamID) != nil {
		return
	}

	d.tracker.Remove(meta.StreamID)
	d.metrics.RemoveStream(meta.StreamID)
	d.BroadcastStatus(ctx, meta.StreamID, types.StatusOffline, nil)

	if d.toucher != nil {
		if err := d.toucher.TouchStream(meta.StreamID, time.Now()); err != nil {
			d.logger.Warn("failed to queue stream touch", zap.String("stream_id", meta.StreamID), zap.Error(err))
		}
	}
}

// handleAuth runs the handshake state machine
func (d *Dispatcher) handleAuth(ctx context.Context, conn interfaces.Connection, raw []byte) {
	if conn.IsAuthenticated() {
		d.replyErr(conn, interfaces.ErrAlreadyAuthenticated)
		return
	}

	msg, err := types.Decode(raw)
	if err != nil {
		d.rejectAuth(conn, err)
		return
	}
	auth, ok := msg.(*types.AuthMessage)
	if !ok {
		d.rejectAuth(conn, types.ErrInvalidMessage)
		return
	}

	// TECHNICAL DISCOVERY: Verification happens before any registry access, no locks held
	identity, err := d.verifier.Verify(ctx, auth.Token)
	if err != nil {
		d.rejectAuth(conn, err)
		return
	}
	if identity == nil || identity.UserID == "" {
		d.rejectAuth(conn, interfaces.ErrUnauthenticated)
		return
	}

	if err := conn.Authenticate(identity); err != nil {
		d.replyErr(conn, err)
		return
	}

	d.metrics.AuthSucceeded()
	d.logger.Info("connection authenticated",
		zap.String("conn_id", conn.ID()),
		zap.String("user_id", identity.UserID),
		zap.String("session_id", identity.SessionID),
		zap.String("display_name", identity.DisplayName))
	d.reply(conn, types.NewSuccess("authenticated", ""))
}

// rejectAuth reports AUTH_FAILED and then closes with policy violation
// FUNCTIONAL DISCOVERY: The close is queued behind the error so the client sees why
func (d *Dispatcher) rejectAuth(conn interfaces.Connection, cause error) {
	d.metrics.AuthFailed()
	d.logger.Info("authentication failed", zap.String("conn_id", conn.ID()), zap.Error(cause))
	d.reply(conn, types.NewError(types.CodeAuthFailed, messageFor(types.CodeAuthFailed)))
	if err := conn.CloseWithReason(ClosePolicyViolation, "authentication failed"); err != nil {
		d.logger.Debug("close after auth failure", zap.String("conn_id", conn.ID()), zap.Error(err))
	}
}

// handleRegister binds a producer device to a stream
func (d *Dispatcher) handleRegister(ctx context.Context, conn interfaces.Connection, msg *types.RegisterMessage) error {
	if _, bound := d.registry.Metadata(conn); bound {
		return registry.ErrAlreadyRegistered
	}
	identity := conn.Identity()

	streamID := msg.StreamID
	if streamID == "" {
		generated, err := d.newStreamID()
		if err != nil {
			d.logger.Error("stream id generation failed", zap.Error(err))
			return ErrStreamIDGenerator
		}
		streamID = generated
	}

	if !d.allowed(ctx, identity.UserID, streamID, interfaces.OperationRegister) {
		return ErrUnauthorized
	}

	meta := &types.Metadata{
		ConnectionID: conn.ID(),
		UserID:       identity.UserID,
		Role:         types.RoleProducerDevice,
		StreamID:     streamID,
		Produces:     msg.Produces,
		Consumes:     msg.Consumes,
		ConnectedAt:  conn.ConnectedAt(),
		RegisteredAt: time.Now(),
	}
	if err := d.registry.Bind(conn, meta); err != nil {
		return err
	}
	for _, kind := range meta.Produces {
		d.registry.RegisterProducer(streamID, conn, kind)
	}
	for _, kind := range meta.Consumes {
		d.registry.RegisterConsumer(streamID, conn, kind)
	}

	d.logger.Info("producer registered",
		zap.String("conn_id", conn.ID()),
		zap.String("stream_id", streamID),
		zap.String("role", string(meta.Role)),
		zap.Any("produces", meta.Produces),
		zap.Any("consumes", meta.Consumes))
	d.reply(conn, types.NewSuccess("registered", streamID))

	if meta.IsVideoProducer() {
		d.BroadcastStatus(ctx, streamID, types.StatusStreaming, conn)
	}
	return nil
}

// handleSubscribe binds a viewer or analysis service to a stream
func (d *Dispatcher) handleSubscribe(ctx context.Context, conn interfaces.Connection, msg *types.SubscribeMessage) error {
	if _, bound := d.registry.Metadata(conn); bound {
		return registry.ErrAlreadyRegistered
	}
	identity := conn.Identity()

	if !d.allowed(ctx, identity.UserID, msg.StreamID, interfaces.OperationSubscribe) {
		return ErrUnauthorized
	}

	meta := &types.Metadata{
		ConnectionID: conn.ID(),
		UserID:       identity.UserID,
		Role:         types.RoleForClientType(msg.ClientType),
		StreamID:     msg.StreamID,
		Produces:     []types.Kind{},
		Consumes:     msg.Consumes,
		ConnectedAt:  conn.ConnectedAt(),
		RegisteredAt: time.Now(),
	}
	if err := d.registry.Bind(conn, meta); err != nil {
		return err
	}
	for _, kind := range meta.Consumes {
		d.registry.RegisterConsumer(msg.StreamID, conn, kind)
	}

	d.logger.Info("consumer subscribed",
		zap.String("conn_id", conn.ID()),
		zap.String("stream_id", msg.StreamID),
		zap.String("role", string(meta.Role)),
		zap.Any("consumes", meta.Consumes))
	d.reply(conn, types.NewSuccess("subscribed", msg.StreamID))

	// Join snapshot: a late subscriber learns the stream is already live
	if d.registry.GetProducer(msg.StreamID) != nil {
		d.reply(conn, types.NewStatus(msg.StreamID, types.StatusStreaming))
	}
	return nil
}

func (d *Dispatcher) handleVideoFrame(ctx context.Context, conn interfaces.Connection, msg *types.VideoFrameMessage, raw []byte) error {
	if err := d.authorizePublish(ctx, conn, msg.StreamID); err != nil {
		return err
	}
	payload, err := msg.RelayPayload(raw, types.NowMillis())
	if err != nil {
		return err
	}

	d.tracker.RecordFrame(msg.StreamID)
	d.fanOut(msg.StreamID, types.KindVideoFrame, payload, conn)
	return nil
}

// handleAlert broadcasts first, then archives
// FUNCTIONAL DISCOVERY: Persistence failure never blocks or undoes delivery
func (d *Dispatcher) handleAlert(ctx context.Context, conn interfaces.Connection, msg *types.AlertMessage, raw []byte) error {
	if err := d.authorizePublish(ctx, conn, msg.StreamID); err != nil {
		return err
	}
	now := types.NowMillis()
	payload, err := msg.RelayPayload(raw, now)
	if err != nil {
		return err
	}

	d.fanOut(msg.StreamID, types.KindAlert, payload, conn)

	if d.persister == nil {
		return nil
	}
	alert := &types.Alert{
		ID:        uuid.NewString(),
		StreamID:  msg.StreamID,
		UserID:    conn.Identity().UserID,
		Severity:  msg.Severity,
		Message:   msg.Message,
		Timestamp: msg.TimestampMillis(now),
		CreatedAt: time.Now(),
	}
	if len(msg.Metadata) > 0 {
		if err := json.Unmarshal(msg.Metadata, &alert.Metadata); err != nil {
			d.logger.Warn("alert metadata not archived", zap.String("stream_id", msg.StreamID), zap.Error(err))
		}
	}
	if err := d.persister.PersistAlert(alert); err != nil {
		d.logger.Warn("alert persistence failed", zap.String("stream_id", msg.StreamID), zap.Error(err))
	}
	return nil
}

// authorizePublish confines a bound connection to its own stream and asks the
// ownership checker about unbound ones
func (d *Dispatcher) authorizePublish(ctx context.Context, conn interfaces.Connection, streamID string) error {
	if meta, bound := d.registry.Metadata(conn); bound {
		if meta.StreamID != streamID {
			return ErrUnauthorized
		}
		return nil
	}
	if !d.allowed(ctx, conn.Identity().UserID, streamID, interfaces.OperationPublish) {
		return ErrUnauthorized
	}
	return nil
}

// allowed consults the ownership checker
// FUNCTIONAL DISCOVERY: Checker failures degrade to allow; live delivery comes first
func (d *Dispatcher) allowed(ctx context.Context, userID, streamID string, op interfaces.Operation) bool {
	ok, err := d.ownership.CheckOwnership(ctx, userID, streamID, op)
	if err != nil {
		d.logger.Warn("ownership check failed, allowing",
			zap.String("user_id", userID), zap.String("stream_id", streamID),
			zap.String("operation", string(op)), zap.Error(err))
		return true
	}
	if !ok {
		d.logger.Info("ownership check denied",
			zap.String("user_id", userID), zap.String("stream_id", streamID), zap.String("operation", string(op)))
	}
	return ok
}

// fanOut pushes one encoded payload to every consumer of a kind except the sender
// ARCHITECTURAL DISCOVERY: Snapshot first, then send without holding registry locks;
// each send is bounded by the connection's own enqueue timeout
func (d *Dispatcher) fanOut(streamID string, kind types.Kind, payload []byte, sender interfaces.Connection) {
	for _, consumer := range d.registry.GetConsumers(streamID, kind) {
		if consumer == sender {
			continue
		}
		d.deliver(streamID, string(kind), consumer, payload)
	}
}

func (d *Dispatcher) deliver(streamID, kind string, conn interfaces.Connection, payload []byte) {
	if err := conn.SendRaw(payload); err != nil {
		d.metrics.Delivery(kind, metrics.ResultFailed)
		d.logger.Warn("delivery failed",
			zap.String("stream_id", streamID), zap.String("kind", kind),
			zap.String("conn_id", conn.ID()), zap.Error(err))
		return
	}
	d.metrics.Delivery(kind, metrics.ResultDelivered)
}

// BroadcastStatus pushes a status event to every consumer of a stream regardless
// of consumed kinds, then forwards it to the external publisher
func (d *Dispatcher) BroadcastStatus(ctx context.Context, streamID string, status types.StreamStatus, exclude interfaces.Connection) {
	event := types.NewStatus(streamID, status)
	payload, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("failed to encode status", zap.Error(err))
		return
	}

	for _, consumer := range d.registry.GetAllConsumers(streamID) {
		if exclude != nil && consumer == exclude {
			continue
		}
		d.deliver(streamID, types.MessageTypeStatus, consumer, payload)
	}
	d.metrics.StatusBroadcast(string(status))
	d.logger.Info("stream status", zap.String("stream_id", streamID), zap.String("status", string(status)))

	if d.publisher == nil {
		return
	}
	// Fire and forget, off the message path
	go func() {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.publishTimeout)
		defer cancel()
		if err := d.publisher.PublishStatus(pubCtx, event); err != nil {
			d.logger.Warn("status publish failed", zap.String("stream_id", streamID), zap.Error(err))
		}
	}()
}

func (d *Dispatcher) reply(conn interfaces.Connection, v any) {
	if err := conn.Send(v); err != nil {
		d.logger.Debug("reply not delivered", zap.String("conn_id", conn.ID()), zap.Error(err))
	}
}

func (d *Dispatcher) replyErr(conn interfaces.Connection, err error) {
	code := codeFor(err)
	text := messageFor(code)
	if code == types.CodeInvalidMessage {
		text = err.Error()
	}
	if code == types.CodeRoutingError {
		d.logger.Warn("routing error", zap.String("conn_id", conn.ID()), zap.Error(err))
	}
	d.reply(conn, types.NewError(code, text))
}

// codeFor maps internal sentinels onto protocol error codes
func codeFor(err error) string {
	switch {
	case errors.Is(err, types.ErrUnknownMessageType):
		return types.CodeUnknownMessageType
	case errors.Is(err, types.ErrInvalidMessage), errors.Is(err, registry.ErrAlreadyRegistered):
		return types.CodeInvalidMessage
	case errors.Is(err, interfaces.ErrUnauthenticated), errors.Is(err, registry.ErrConnectionNotAuthorized):
		return types.CodeAuthRequired
	case errors.Is(err, interfaces.ErrAlreadyAuthenticated):
		return types.CodeAlreadyAuthenticated
	case errors.Is(err, ErrUnauthorized):
		return types.CodeUnauthorized
	default:
		return types.CodeRoutingError
	}
}

// messageFor returns the fixed client-visible text for a code
func messageFor(code string) string {
	switch code {
	case types.CodeAuthRequired:
		return "authentication required"
	case types.CodeAuthFailed:
		return "authentication failed"
	case types.CodeAlreadyAuthenticated:
		return "connection already authenticated"
	case types.CodeUnauthorized:
		return "not authorized for stream"
	case types.CodeUnknownMessageType:
		return "unknown message type"
	case types.CodeInvalidMessage:
		return "invalid message"
	default:
		return "internal routing error"
	}
}

// peekType reads the discriminator without decoding the rest
func peekType(raw []byte) (string, bool) {
	if !gjson.ValidBytes(raw) {
		return "", false
	}
	typ := gjson.GetBytes(raw, "type")
	if typ.Type != gjson.String {
		return "", false
	}
	return typ.String(), true
}

// metricLabel keeps the messages_total label set closed
func metricLabel(msgType string) string {
	switch msgType {
	case types.MessageTypeAuth, types.MessageTypeRegister, types.MessageTypeSubscribe,
		types.MessageTypeVideoFrame, types.MessageTypeAlert:
		return msgType
	default:
		return "unknown"
	}
}

var _ interfaces.MessageDispatcher = (*Dispatcher)(nil)
