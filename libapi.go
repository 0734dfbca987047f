package ringflow

import (
	runtimepkg "github.com/drblury/ringflow/internal/runtime"
	configpkg "github.com/drblury/ringflow/internal/runtime/config"
	errspkg "github.com/drblury/ringflow/internal/runtime/errors"
	eventpkg "github.com/drblury/ringflow/internal/runtime/event"
	idspkg "github.com/drblury/ringflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/ringflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/ringflow/internal/runtime/logging"
	"github.com/drblury/ringflow/internal/runtime/ring"
	statspkg "github.com/drblury/ringflow/internal/runtime/stats"
	"github.com/drblury/ringflow/transport"
)

type (
	Config            = configpkg.Config
	Queue             = runtimepkg.Queue
	QueueDependencies = runtimepkg.QueueDependencies
	State             = runtimepkg.State
	OverflowPolicy    = runtimepkg.OverflowPolicy
	Status            = runtimepkg.Status
	ConsumerStatus    = runtimepkg.ConsumerStatus
	ConsumerReport    = runtimepkg.ConsumerReport
	StatsReport       = runtimepkg.StatsReport

	Consumer     = runtimepkg.Consumer
	ConsumerFunc = runtimepkg.ConsumerFunc

	Event        = eventpkg.Event
	ProtocolType = eventpkg.ProtocolType
	ReplyChannel = eventpkg.Channel

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	ConsumerMiddleware     = runtimepkg.ConsumerMiddleware

	// Consumer lifecycle hooks
	EventContext  = runtimepkg.EventContext
	ConsumerHooks = runtimepkg.ConsumerHooks

	// Error classification
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	WaitStrategy = ring.WaitStrategy
	Stats        = statspkg.Collector

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	InvalidStateError     = errspkg.InvalidStateError
	ShutdownTimeoutError  = errspkg.ShutdownTimeoutError
	ConsumerError         = errspkg.ConsumerError
	PanicError            = errspkg.PanicError
	ConfigValidationError = errspkg.ConfigValidationError

	// Front-end types
	Listener              = transport.Listener
	Publisher             = transport.Publisher
	PublisherFunc         = transport.PublisherFunc
	TryPublisher          = transport.TryPublisher
	FrontendBuilder       = transport.Builder
	FrontendConfig        = transport.Config
	FrontendDependencies  = transport.Dependencies
	FrontendRegistry      = transport.Registry
	FrontendCapabilities  = transport.Capabilities
	ClientTracker         = transport.ClientTracker
	FrontendReplyChannel  = transport.FuncChannel
	BufferedReplyChannel  = transport.ReplyChannel
	FrontendReplySendFunc = transport.SendFunc
)

var (
	NewQueue       = runtimepkg.NewQueue
	DefaultConfig  = configpkg.Default
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	DefaultMiddlewares  = runtimepkg.DefaultMiddlewares
	LogEventsMiddleware = runtimepkg.LogEventsMiddleware
	TracerMiddleware    = runtimepkg.TracerMiddleware
	RecovererMiddleware = runtimepkg.RecovererMiddleware
	TimeoutMiddleware   = runtimepkg.TimeoutMiddleware

	// Consumer lifecycle hooks
	HooksMiddleware = runtimepkg.HooksMiddleware
	LoggingHooks    = runtimepkg.LoggingHooks
	MetricsHooks    = runtimepkg.MetricsHooks
	AlertingHooks   = runtimepkg.AlertingHooks

	ConsumerNameFromContext = runtimepkg.ConsumerNameFromContext

	ParseWaitStrategy = ring.ParseWaitStrategy
	ParseProtocolType = eventpkg.ParseProtocolType
	NewStats          = statspkg.New

	// Front-end registry
	DefaultFrontendRegistry = transport.DefaultRegistry
	RegisterFrontend        = transport.Register
	BuildFrontend           = transport.Build
	BuildFrontends          = transport.BuildAll
	CloseFrontends          = transport.CloseAll
	GetCapabilities         = transport.GetCapabilities
	NewClientTracker        = transport.NewClientTracker
	NewReplyChannel         = transport.NewReplyChannel
	NewFuncChannel          = transport.NewFuncChannel
	IsBusy                  = transport.IsBusy
	DeliverNow              = transport.DeliverNow

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode
	PayloadBytes  = jsoncodec.Bytes

	ErrQueueFull            = errspkg.ErrQueueFull
	ErrInvalidState         = errspkg.ErrInvalidState
	ErrShutdownTimeout      = errspkg.ErrShutdownTimeout
	ErrConsumerRequired     = errspkg.ErrConsumerRequired
	ErrConsumerNameRequired = errspkg.ErrConsumerNameRequired
	ErrDuplicateConsumer    = errspkg.ErrDuplicateConsumer
	ErrEventRequired        = errspkg.ErrEventRequired
	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrMiddlewareRequired   = errspkg.ErrMiddlewareRequired
	ErrUnknownFrontend      = errspkg.ErrUnknownFrontend
	ErrMessageTooLarge      = errspkg.ErrMessageTooLarge
	ErrConsumerPanicked     = errspkg.ErrConsumerPanicked
	ErrReplyClosed          = transport.ErrReplyClosed

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger
	NewJSONLogger             = loggingpkg.NewJSONLogger

	// NewEventID generates a unique, time-ordered event ID using ULID.
	NewEventID  = idspkg.NewEventID
	NewClientID = idspkg.NewClientID
)

// Lifecycle states.
const (
	StateCreated  = runtimepkg.StateCreated
	StateStarted  = runtimepkg.StateStarted
	StateStopping = runtimepkg.StateStopping
	StateStopped  = runtimepkg.StateStopped
)

// Overflow policies.
const (
	OverflowBlock  = runtimepkg.OverflowBlock
	OverflowReject = runtimepkg.OverflowReject
)

// Protocols an event can arrive over.
const (
	ProtocolHTTP      = eventpkg.ProtocolHTTP
	ProtocolWebSocket = eventpkg.ProtocolWebSocket
	ProtocolTCP       = eventpkg.ProtocolTCP
	ProtocolUDP       = eventpkg.ProtocolUDP
	ProtocolMQTT      = eventpkg.ProtocolMQTT
	ProtocolCustom    = eventpkg.ProtocolCustom
)

// Wait strategy names accepted by Config.WaitStrategy.
const (
	WaitBusySpin = ring.WaitBusySpin
	WaitYielding = ring.WaitYielding
	WaitSleeping = ring.WaitSleeping
	WaitBlocking = ring.WaitBlocking
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone     = runtimepkg.ErrorCategoryNone
	ErrorCategoryPanic    = runtimepkg.ErrorCategoryPanic
	ErrorCategoryCanceled = runtimepkg.ErrorCategoryCanceled
	ErrorCategoryTimeout  = runtimepkg.ErrorCategoryTimeout
	ErrorCategoryOther    = runtimepkg.ErrorCategoryOther
)

// NewEvent builds an event for the given protocol and client with a fresh id
// and timestamp.
func NewEvent(protocol ProtocolType, clientID string, payload any) *Event {
	return eventpkg.New(protocol, clientID, payload)
}
