package httpapi

import (
	"log"
	"net/http"

	"github.com/fusevault/core/internal/apikey"
	"github.com/fusevault/core/internal/assetstore"
	"github.com/fusevault/core/internal/auth"
	"github.com/fusevault/core/internal/chainclient"
	"github.com/fusevault/core/internal/delegation"
	"github.com/fusevault/core/internal/delete"
	"github.com/fusevault/core/internal/pending"
	"github.com/fusevault/core/internal/retrieval"
	"github.com/fusevault/core/internal/transfer"
	"github.com/fusevault/core/internal/txlog"
	"github.com/fusevault/core/internal/upload"
)

// Server wires every orchestrator into a set of http.HandlerFuncs. It holds
// no state of its own beyond its collaborators, the way
// pkg/server.ProofHandlers wraps a *database.Repositories.
type Server struct {
	upload     *upload.Orchestrator
	deleteOp   *delete.Orchestrator
	retrieve   *retrieval.Orchestrator
	transferOp *transfer.Orchestrator
	delegates  *delegation.Registry
	chain      *chainclient.Client
	assets     *assetstore.Repository
	txlogs     *txlog.Repository
	pendingTx  *pending.Coordinator
	apiKeys    *apikey.Store
	signer     *apikey.Signer
	dispatcher *auth.Dispatcher
	maxBatch   int
	logger     *log.Logger
}

// Deps collects everything Server needs. Every field is required except
// logger, which defaults the way the teacher's NewProofHandlers does.
type Deps struct {
	Upload     *upload.Orchestrator
	Delete     *delete.Orchestrator
	Retrieve   *retrieval.Orchestrator
	Transfer   *transfer.Orchestrator
	Delegates  *delegation.Registry
	Chain      *chainclient.Client
	Assets     *assetstore.Repository
	TxLogs     *txlog.Repository
	PendingTx  *pending.Coordinator
	APIKeys    *apikey.Store
	Signer     *apikey.Signer
	Dispatcher *auth.Dispatcher
	MaxBatch   int
	Logger     *log.Logger
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[httpapi] ", log.LstdFlags)
	}
	maxBatch := d.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 50
	}
	return &Server{
		upload:     d.Upload,
		deleteOp:   d.Delete,
		retrieve:   d.Retrieve,
		transferOp: d.Transfer,
		delegates:  d.Delegates,
		chain:      d.Chain,
		assets:     d.Assets,
		txlogs:     d.TxLogs,
		pendingTx:  d.PendingTx,
		apiKeys:    d.APIKeys,
		signer:     d.Signer,
		dispatcher: d.Dispatcher,
		maxBatch:   maxBatch,
		logger:     logger,
	}
}

// Routes registers every endpoint in spec.md §6 on a plain *http.ServeMux.
// A production deployment would register these handlers on whatever router
// the surrounding application already uses (spec.md §9, SPEC_FULL.md
// §5.12) — this mux exists to demonstrate the contract.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /assets", s.handleUpload)
	mux.HandleFunc("POST /assets/batch", s.handleUploadBatch)
	mux.HandleFunc("POST /assets/upload/complete", s.handleUploadComplete)
	mux.HandleFunc("GET /assets/{asset_id}", s.handleRetrieve)
	mux.HandleFunc("DELETE /assets/{asset_id}", s.handleDelete)
	mux.HandleFunc("POST /assets/delete/batch", s.handleDeleteBatch)
	mux.HandleFunc("POST /assets/delete/complete", s.handleDeleteComplete)

	mux.HandleFunc("GET /assets/{asset_id}/history", s.handleHistoryByAsset)
	mux.HandleFunc("GET /wallets/{wallet}/history", s.handleHistoryByWallet)

	mux.HandleFunc("POST /delegations", s.handleDelegateSet)
	mux.HandleFunc("DELETE /delegations/{delegate}", s.handleDelegateRevoke)
	mux.HandleFunc("POST /delegations/complete", s.handleDelegateComplete)
	mux.HandleFunc("GET /delegations/{owner}/{delegate}", s.handleDelegateCheck)
	mux.HandleFunc("GET /delegations/{owner}", s.handleDelegateList)

	mux.HandleFunc("POST /transfers/initiate", s.handleTransferInitiate)
	mux.HandleFunc("POST /transfers/initiate/complete", s.handleTransferInitiateComplete)
	mux.HandleFunc("POST /transfers/accept", s.handleTransferAccept)
	mux.HandleFunc("POST /transfers/accept/complete", s.handleTransferAcceptComplete)
	mux.HandleFunc("POST /transfers/cancel", s.handleTransferCancel)
	mux.HandleFunc("POST /transfers/cancel/complete", s.handleTransferCancelComplete)
	mux.HandleFunc("GET /transfers/pending", s.handleTransferListPending)

	mux.HandleFunc("POST /api-keys", s.handleAPIKeyCreate)
	mux.HandleFunc("GET /api-keys", s.handleAPIKeyList)
	mux.HandleFunc("DELETE /api-keys/{name}", s.handleAPIKeyRevoke)
	mux.HandleFunc("PUT /api-keys/{name}/permissions", s.handleAPIKeyUpdatePermissions)

	return mux
}
