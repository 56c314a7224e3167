package blockchain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"credential-registry/internal/blockchain/credentialfamily"
	"credential-registry/internal/model"

	"github.com/hyperledger/sawtooth-sdk-go/protobuf/transaction_pb2"
	"github.com/hyperledger/sawtooth-sdk-go/signing"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"gopkg.in/yaml.v3"
)

// Batch statuses reported by the REST API.
const (
	BatchCommitted = "COMMITTED"
	BatchInvalid   = "INVALID"
	BatchPending   = "PENDING"
	BatchUnknown   = "UNKNOWN"
)

// ErrBatchInvalid is returned when the validator rejected a submitted batch.
var ErrBatchInvalid = errors.New("batch rejected by the validator")

type batchStatusResponse struct {
	Data []struct {
		ID                  string `yaml:"id"`
		Status              string `yaml:"status"`
		InvalidTransactions []struct {
			Message string `yaml:"message"`
		} `yaml:"invalid_transactions"`
	} `yaml:"data"`
}

// SubmitAction signs and submits a verifier action on a request and waits up
// to wait for the batch to leave the pending state. The returned status is
// the last one seen; the replica only reflects the action after the next
// reconciliation.
func (c *Client) SubmitAction(ctx context.Context, universityID uint64, ref model.RequestRef, action credentialfamily.Action, signer *signing.Signer, wait time.Duration) (batchID string, status string, err error) {
	payload := credentialfamily.ActionPayload{
		Action:    action,
		Kind:      string(ref.Kind),
		RequestID: ref.ID,
	}
	addresses := []string{
		credentialfamily.GetRequestAddress(ref),
		credentialfamily.GetRoleAddress(universityID, signer.GetPublicKey().AsHex()),
	}

	transaction, err := NewTransaction(payload, signer, addresses)
	if err != nil {
		return "", "", err
	}
	rawBatchList, err := createBatchList([]*transaction_pb2.Transaction{transaction}, signer)
	if err != nil {
		return "", "", fmt.Errorf("unable to construct batch list: %w", err)
	}
	batchID = rawBatchList.Batches[0].HeaderSignature
	batchList, err := proto.Marshal(rawBatchList)
	if err != nil {
		return "", "", fmt.Errorf("unable to serialize batch list: %w", err)
	}

	if _, err := c.sendRequest(ctx, batchSubmitAPI, batchList, contentTypeOctetStream); err != nil {
		return batchID, "", err
	}
	c.logger.Info("batch submitted",
		zap.String("batchID", batchID),
		zap.String("request", ref.String()),
		zap.String("action", string(action)))

	status, err = c.waitForBatch(ctx, batchID, wait)
	return batchID, status, err
}

func (c *Client) waitForBatch(ctx context.Context, batchID string, wait time.Duration) (string, error) {
	deadline := time.Now().Add(wait)
	status := BatchPending
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return status, nil
		}
		secs := int(remaining.Seconds())
		if secs < 1 {
			secs = 1
		}

		var err error
		status, err = c.getStatus(ctx, batchID, secs)
		if err != nil {
			return status, err
		}
		switch status {
		case BatchCommitted:
			return status, nil
		case BatchInvalid:
			return status, ErrBatchInvalid
		}
	}
}

func (c *Client) getStatus(ctx context.Context, batchID string, wait int) (string, error) {
	apiSuffix := fmt.Sprintf("%s?id=%s&wait=%d", batchStatusAPI, batchID, wait)
	response, err := c.sendRequest(ctx, apiSuffix, nil, "")
	if err != nil {
		return "", err
	}

	var statuses batchStatusResponse
	if err := yaml.Unmarshal([]byte(response), &statuses); err != nil {
		return "", fmt.Errorf("error reading response: %w", err)
	}
	if len(statuses.Data) == 0 {
		return BatchUnknown, nil
	}

	entry := statuses.Data[0]
	if entry.Status == BatchInvalid {
		messages := make([]string, 0, len(entry.InvalidTransactions))
		for _, t := range entry.InvalidTransactions {
			messages = append(messages, t.Message)
		}
		c.logger.Warn("batch invalid", zap.String("batchID", batchID), zap.String("reasons", strings.Join(messages, "; ")))
	}
	return entry.Status, nil
}
