package transport

// EngineOption configures an Engine at construction time. Modeled on the
// teacher's funcDialOption/funcServerOption pattern (dialoptions.go,
// serveroptions.go): a closure wrapped in a named type so options compose
// without the Engine needing a variadic field for every optional setting.
type EngineOption interface {
	apply(*engineOptions)
}

type engineOptions struct {
	statusCallback    ConnectionStatusChangeCallback
	statusCallbackCtx interface{}
	stateCallback     ConnectionStateCallback
	stateCallbackCtx  interface{}
	scheduler         *Scheduler
	logger            Logger
}

type funcEngineOption struct {
	f func(*engineOptions)
}

func (o *funcEngineOption) apply(opts *engineOptions) { o.f(opts) }

func newFuncEngineOption(f func(*engineOptions)) *funcEngineOption {
	return &funcEngineOption{f: f}
}

// WithStatusChangeCallback registers the connection-status-change notifier
// (spec §4.6) at construction time, equivalent to calling
// RegisterConnectionStatusChangeCallback immediately after NewEngine.
func WithStatusChangeCallback(cb ConnectionStatusChangeCallback, ctx interface{}) EngineOption {
	return newFuncEngineOption(func(o *engineOptions) {
		o.statusCallback = cb
		o.statusCallbackCtx = ctx
	})
}

// WithStateCallback registers the lower-level connection-state callback.
func WithStateCallback(cb ConnectionStateCallback, ctx interface{}) EngineOption {
	return newFuncEngineOption(func(o *engineOptions) {
		o.stateCallback = cb
		o.stateCallbackCtx = ctx
	})
}

// WithScheduler overrides the engine's deferred-task scheduler. Mainly
// useful in tests that want deterministic control over retry timers.
func WithScheduler(s *Scheduler) EngineOption {
	return newFuncEngineOption(func(o *engineOptions) {
		o.scheduler = s
	})
}

// WithLogger overrides the engine's structured logger.
func WithLogger(l Logger) EngineOption {
	return newFuncEngineOption(func(o *engineOptions) {
		o.logger = l
	})
}

func defaultEngineOptions() engineOptions {
	return engineOptions{
		logger: defaultLogger(),
	}
}
