// Package bedrock exposes the teacher's features/model/bedrock adapter under
// the providers/* naming convention shared by providers/anthropic and
// providers/openai, so the top-level providers package can construct all
// three concrete clients the same way.
package bedrock

import (
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.temporal.io/sdk/client"

	teacherbedrock "github.com/agentrun/agentrun/features/model/bedrock"
)

type (
	// Client implements model.Client on top of AWS Bedrock Converse.
	Client = teacherbedrock.Client

	// Options configures the Bedrock adapter.
	Options = teacherbedrock.Options

	// RuntimeClient is the subset of the Bedrock runtime client the adapter needs.
	RuntimeClient = teacherbedrock.RuntimeClient
)

// New builds a Bedrock-backed model client. temporalClient may be nil, in
// which case the client never consults a workflow ledger for run history and
// relies solely on Request.Messages (the path used by the inmem engine, the
// only engine in this module); with a non-nil client the adapter queries the
// running Temporal workflow's "ledger_messages" for transcript continuity.
func New(runtime *bedrockruntime.Client, opts Options, temporalClient client.Client) (*Client, error) {
	var ledger = teacherbedrock.NewTemporalLedgerSource(temporalClient)
	return teacherbedrock.New(runtime, opts, ledger)
}
