package models

// Health represents the health status of the service.
type Health struct {
	Status  HealthStatus   `json:"status"`
	Time    Timestamp      `json:"time"`
	Details map[string]any `json:"details,omitempty"`
}

// SystemStatus represents the overall system status.
type SystemStatus struct {
	Status       HealthStatus        `json:"status"`
	Time         Timestamp           `json:"time"`
	Subsystems   []SubsystemStatus   `json:"subsystems"`
	Providers    []ProviderStatus    `json:"providers"`
	AutoDispatch *AutoDispatchStatus `json:"autoDispatch,omitempty"`
}

// SubsystemStatus represents the status of a subsystem.
type SubsystemStatus struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Detail *string      `json:"detail,omitempty"`
}

// ProviderStatus represents the status of an external provider.
type ProviderStatus struct {
	Provider      string       `json:"provider"`
	Status        HealthStatus `json:"status"`
	CircuitState  string       `json:"circuitState"`
	LastSuccessAt *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt *Timestamp   `json:"lastFailureAt,omitempty"`
	Message       *string      `json:"message,omitempty"`
}

// AutoDispatchStatus summarises the auto-dispatch loop.
type AutoDispatchStatus struct {
	Runs          int64      `json:"runs"`
	Assigned      int64      `json:"assigned"`
	Grounded      int64      `json:"grounded"`
	Failed        int64      `json:"failed"`
	LastRunAt     *Timestamp `json:"lastRunAt,omitempty"`
	LastRunMillis int64      `json:"lastRunMillis"`
}
