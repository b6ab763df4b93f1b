package workflow

// Status is what the workflow engine reads to decide whether to re-invoke.
// It is separate from the durable job status on purpose.
type Status string

const (
	StatusRunning  Status = "RUNNING"
	StatusFailed   Status = "FAILED"
	StatusFinished Status = "FINISHED"
)

// Terminal reports whether the engine should stop invoking.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusFinished
}

// Metadata is the asset metadata document pinned off-chain.
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Attributes  any    `json:"attributes,omitempty"`
}

// Estimates is the cost of an operation as computed by the gas engine.
type Estimates struct {
	GasUnits           uint64  `json:"estimatedGas"`
	NativeCost         float64 `json:"estimatedInNetworkCurrency"`
	NativeUnitPriceUSD float64 `json:"networkCurrencyPrice"`
	USDCost            float64 `json:"usd"`
}

// State is the payload round-tripped through the workflow engine.
type State struct {
	Status         Status     `json:"stateMachineStatus"`
	StatusMessage  string     `json:"stateMachineStatusMessage"`
	PreviousStatus Status     `json:"previousStateMachineStatus,omitempty"`
	TxHash         string     `json:"txHash,omitempty"`
	ContentID      string     `json:"nftIPFSHash,omitempty"`
	Metadata       *Metadata  `json:"nftJson,omitempty"`
	Estimates      *Estimates `json:"estimates,omitempty"`
	Count          int        `json:"count"`
}

// LoadState builds this invocation's state from the prior payload. The
// accumulated fields are kept, the status is reset to status and the
// invocation count advances.
func LoadState(prior *State, status Status) *State {
	st := &State{Status: status, Count: 1}
	if prior == nil {
		return st
	}
	st.PreviousStatus = prior.Status
	st.TxHash = prior.TxHash
	st.ContentID = prior.ContentID
	st.Metadata = prior.Metadata
	st.Estimates = prior.Estimates
	st.Count = prior.Count + 1
	return st
}

// Fail marks the state as terminally failed.
func (s *State) Fail(msg string) {
	s.Status = StatusFailed
	s.StatusMessage = msg
}
