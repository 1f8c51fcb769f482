package traceflow

import (
	newfeed "github.com/drblury/traceflow/feed"
	enginepkg "github.com/drblury/traceflow/internal/engine"
	configpkg "github.com/drblury/traceflow/internal/engine/config"
	errspkg "github.com/drblury/traceflow/internal/engine/errors"
	enginefeed "github.com/drblury/traceflow/internal/engine/feed"
	handlerpkg "github.com/drblury/traceflow/internal/engine/handlers"
	idspkg "github.com/drblury/traceflow/internal/engine/ids"
	jsoncodec "github.com/drblury/traceflow/internal/engine/jsoncodec"
	loggingpkg "github.com/drblury/traceflow/internal/engine/logging"
	metadatapkg "github.com/drblury/traceflow/internal/engine/metadata"
	rulespkg "github.com/drblury/traceflow/internal/engine/rules"
	tracepkg "github.com/drblury/traceflow/internal/engine/trace"
)

type (
	Config              = configpkg.Config
	Service             = enginepkg.Service
	ServiceDependencies = enginepkg.ServiceDependencies
	Session             = enginepkg.Session
	SessionDependencies = enginepkg.SessionDependencies
	SessionSnapshot     = enginepkg.SessionSnapshot
	FeedFactory         = enginefeed.Factory
	Feed                = enginefeed.Feed

	// Event records and hints
	EventRecord      = tracepkg.EventRecord
	RecordType       = tracepkg.RecordType
	Data             = tracepkg.Data
	HintRecord       = tracepkg.HintRecord
	Severity         = tracepkg.Severity
	EmitFunc         = tracepkg.EmitFunc
	Headers          = tracepkg.Headers
	ResourceSnapshot = tracepkg.ResourceSnapshot
	SnapshotProvider = tracepkg.SnapshotProvider

	// Sub-model registry
	SubModel     = enginepkg.SubModel
	SubModelInfo = enginepkg.SubModelInfo

	// Hint engine
	Rule                     = enginepkg.Rule
	HintEngine               = enginepkg.HintEngine
	HintListener             = enginepkg.HintListener
	HintListenerFunc         = enginepkg.HintListenerFunc
	HintListenerRegistration = enginepkg.HintListenerRegistration
	CacheControl             = rulespkg.CacheControl

	// Dispatch middleware
	Dispatch               = enginepkg.Dispatch
	DispatchMiddleware     = enginepkg.DispatchMiddleware
	MiddlewareBuilder      = enginepkg.MiddlewareBuilder
	MiddlewareRegistration = enginepkg.MiddlewareRegistration

	// Dispatch lifecycle hooks
	SessionHooks  = enginepkg.SessionHooks
	RecordContext = enginepkg.RecordContext

	// Dispatch statistics
	DispatchStats     = enginepkg.DispatchStats
	LatencyMetrics    = enginepkg.LatencyMetrics
	ThroughputMetrics = enginepkg.ThroughputMetrics
	ResourceUsage     = enginepkg.ResourceUsage
	ErrorBreakdown    = enginepkg.ErrorBreakdown

	// Error classification
	ErrorClassifier = enginepkg.ErrorClassifier
	ErrorCategory   = enginepkg.ErrorCategory
	FailureReporter = enginepkg.FailureReporter

	// Default sub-models
	StreamValidator      = enginepkg.StreamValidator
	UIEventModel         = enginepkg.UIEventModel
	UIEventTypeStats     = enginepkg.UIEventTypeStats
	NetworkResourceModel = enginepkg.NetworkResourceModel
	TabChangeModel       = enginepkg.TabChangeModel
	NavigationEntry      = enginepkg.NavigationEntry
	ProfileModel         = enginepkg.ProfileModel

	// Hint sinks
	RecentHints         = enginepkg.RecentHints
	LoggingHintListener = enginepkg.LoggingHintListener
	HintPublisher       = enginepkg.HintPublisher

	Producer        = enginepkg.Producer
	PipelineMetrics = enginepkg.PipelineMetrics

	Metadata = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	PanicError            = enginepkg.PanicError
	UnroutableRecordError = enginepkg.UnroutableRecordError
	StreamValidationError = enginepkg.StreamValidationError
	ConfigValidationError = errspkg.ConfigValidationError

	// Feed capabilities
	Capabilities = enginefeed.Capabilities

	// Modular feed types (new package structure)
	FeedBuilder           = newfeed.Builder
	FeedConfig            = newfeed.Config
	FeedRegistry          = newfeed.Registry
	FeedReplayer          = newfeed.Replayer
	FeedQueueIntrospector = newfeed.QueueIntrospector
)

var (
	NewService     = enginepkg.NewService
	NewSession     = enginepkg.NewSession
	ValidateConfig = configpkg.ValidateConfig

	NewEventRecord = tracepkg.NewEventRecord
	NewHintRecord  = tracepkg.NewHintRecord

	DefaultMiddlewares   = enginepkg.DefaultMiddlewares
	LogRecordsMiddleware = enginepkg.LogRecordsMiddleware
	TracerMiddleware     = enginepkg.TracerMiddleware
	MetricsMiddleware    = enginepkg.MetricsMiddleware
	RecovererMiddleware  = enginepkg.RecovererMiddleware

	// Dispatch lifecycle hooks
	HooksMiddleware = enginepkg.HooksMiddleware
	LoggingHooks    = enginepkg.LoggingHooks
	MetricsHooks    = enginepkg.MetricsHooks
	AlertingHooks   = enginepkg.AlertingHooks

	// Default sub-model constructors
	NewStreamValidator      = enginepkg.NewStreamValidator
	NewUIEventModel         = enginepkg.NewUIEventModel
	NewNetworkResourceModel = enginepkg.NewNetworkResourceModel
	NewTabChangeModel       = enginepkg.NewTabChangeModel
	NewProfileModel         = enginepkg.NewProfileModel
	NewHintEngine           = enginepkg.NewHintEngine

	// Hint rules and sinks
	NewCacheControl        = rulespkg.NewCacheControl
	NewRecentHints         = enginepkg.NewRecentHints
	NewLoggingHintListener = enginepkg.NewLoggingHintListener
	NewHintPublisher       = enginepkg.NewHintPublisher

	NewPipelineMetrics = enginepkg.NewPipelineMetrics

	// Record publishing and feed message helpers
	PublishRecord    = enginepkg.PublishRecord
	DecodeRecord     = handlerpkg.DecodeRecord
	NewRecordMessage = handlerpkg.NewRecordMessage
	NewHintMessage   = handlerpkg.NewHintMessage
	FeedLag          = handlerpkg.FeedLag

	// Feed capabilities
	GetCapabilities = enginefeed.GetCapabilities

	// Modular feed registry (new package structure)
	// Use RegisterFeed and BuildFeed to work with the modular feed packages.
	// Import individual feeds via: _ "github.com/drblury/traceflow/feed/kafka"
	DefaultFeedRegistry = newfeed.DefaultRegistry
	RegisterFeed        = newfeed.Register
	BuildFeed           = newfeed.Build
	DefaultFeedFactory  = enginefeed.DefaultFactory

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrSessionRequired      = errspkg.ErrSessionRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrSubModelRequired     = errspkg.ErrSubModelRequired
	ErrSubModelNameRequired = errspkg.ErrSubModelNameRequired
	ErrDuplicateSubModel    = errspkg.ErrDuplicateSubModel
	ErrRuleRequired         = errspkg.ErrRuleRequired
	ErrRuleNameRequired     = errspkg.ErrRuleNameRequired
	ErrListenerRequired     = errspkg.ErrListenerRequired
	ErrListenerNameRequired = errspkg.ErrListenerNameRequired
	ErrRecordRequired       = errspkg.ErrRecordRequired
	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrTopicRequired        = errspkg.ErrTopicRequired
	ErrProviderRequired     = errspkg.ErrProviderRequired
	ErrSessionClosed        = errspkg.ErrSessionClosed

	NewConfigValidationError = errspkg.NewConfigValidationError

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewWatermillAdapter  = loggingpkg.NewWatermillAdapter

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Record type constants on the browser event wire contract. The numeric
// values are fixed; producers and saved traces depend on them.
const (
	TypeDomEvent                = tracepkg.TypeDomEvent
	TypeLayout                  = tracepkg.TypeLayout
	TypePaint                   = tracepkg.TypePaint
	TypeParseHTML               = tracepkg.TypeParseHTML
	TypeTimerFired              = tracepkg.TypeTimerFired
	TypeResourceSendRequest     = tracepkg.TypeResourceSendRequest
	TypeResourceReceiveResponse = tracepkg.TypeResourceReceiveResponse
	TypeResourceDataReceived    = tracepkg.TypeResourceDataReceived
	TypeResourceFinish          = tracepkg.TypeResourceFinish
	TypeTabChanged              = tracepkg.TypeTabChanged
	TypeProfileData             = tracepkg.TypeProfileData
)

// Hint severity levels.
const (
	SeverityInfo     = tracepkg.SeverityInfo
	SeverityWarning  = tracepkg.SeverityWarning
	SeverityCritical = tracepkg.SeverityCritical
)

// Sequence sentinels.
const (
	// UnassignedSequence marks a record the session has not numbered yet.
	UnassignedSequence = tracepkg.UnassignedSequence

	// UnassociatedSequence marks a hint that refers to no specific record.
	UnassociatedSequence = tracepkg.UnassociatedSequence
)

// Metadata keys - use these constants for standard metadata fields.
const (
	MetadataKeyRecordType      = handlerpkg.MetadataKeyRecordType
	MetadataKeyRecordSequence  = handlerpkg.MetadataKeyRecordSequence
	MetadataKeyEnqueuedAt      = handlerpkg.MetadataKeyEnqueuedAt
	MetadataKeyHintRule        = handlerpkg.MetadataKeyHintRule
	MetadataKeyHintSeverity    = handlerpkg.MetadataKeyHintSeverity
	MetadataKeyHintRefSequence = handlerpkg.MetadataKeyHintRefSequence
)

// Names the default sub-models register under.
const (
	StreamValidatorName      = enginepkg.StreamValidatorName
	UIEventModelName         = enginepkg.UIEventModelName
	NetworkResourceModelName = enginepkg.NetworkResourceModelName
	TabChangeModelName       = enginepkg.TabChangeModelName
	ProfileModelName         = enginepkg.ProfileModelName
	HintEngineName           = enginepkg.HintEngineName

	// CacheControlName is the name of the built-in caching rule.
	CacheControlName = rulespkg.CacheControlName
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = enginepkg.ErrorCategoryNone
	ErrorCategoryValidation = enginepkg.ErrorCategoryValidation
	ErrorCategoryPanic      = enginepkg.ErrorCategoryPanic
	ErrorCategoryDownstream = enginepkg.ErrorCategoryDownstream
	ErrorCategoryOther      = enginepkg.ErrorCategoryOther
)

// Reasons reported by the hints_dropped_total metric.
const (
	DropReasonUnassociated    = enginepkg.DropReasonUnassociated
	DropReasonUnknownSequence = enginepkg.DropReasonUnknownSequence
	DropReasonQueueOverflow   = enginepkg.DropReasonQueueOverflow
)

const (
	DefaultRecordsTopic    = configpkg.DefaultRecordsTopic
	DefaultMaxPendingHints = enginepkg.DefaultMaxPendingHints
	DefaultRecentHintsSize = enginepkg.DefaultRecentHintsSize
)

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
