package blockchain

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"credential-registry/internal/blockchain/credentialfamily"
	"credential-registry/internal/blockchain/settingsfamily"
	"credential-registry/internal/model"
	"credential-registry/internal/signkeys"

	"github.com/fxamacker/cbor"
	"gopkg.in/yaml.v3"
)

type stateResponse struct {
	Data string `yaml:"data"`
}

// readState returns the raw bytes stored at address. An empty address wraps
// model.ErrNotFound.
func (c *Client) readState(ctx context.Context, address string) ([]byte, error) {
	response, err := c.sendRequest(ctx, fmt.Sprintf("%s/%s", stateAPI, address), nil, "")
	if err != nil {
		return nil, err
	}

	var state stateResponse
	if err := yaml.Unmarshal([]byte(response), &state); err != nil {
		return nil, fmt.Errorf("failed to read the state response: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(state.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode the state data: %w", err)
	}
	return data, nil
}

// CheckRole is the live role view of account within a university. An account
// without a role entry is an explicit negative answer, not an error.
func (c *Client) CheckRole(ctx context.Context, universityID uint64, account string) (model.RoleSet, error) {
	address, err := signkeys.NormalizeAddress(account)
	if err != nil {
		return model.RoleSet{}, fmt.Errorf("%w: %v", model.ErrInvalidArgument, err)
	}

	data, err := c.readState(ctx, credentialfamily.GetRoleAddress(universityID, address))
	if errors.Is(err, model.ErrNotFound) {
		return model.RoleSet{}, nil
	}
	if err != nil {
		return model.RoleSet{}, err
	}

	var roles credentialfamily.RoleData
	if err := cbor.Unmarshal(data, &roles); err != nil {
		return model.RoleSet{}, fmt.Errorf("failed to unmarshal the role data: %w", err)
	}
	return model.RoleSet{IsVerifier: roles.IsVerifier, IsIssuer: roles.IsIssuer, IsRevoker: roles.IsRevoker}, nil
}

// GetRequest reads the ledger's current view of a request.
func (c *Client) GetRequest(ctx context.Context, ref model.RequestRef) (model.RequestSnapshot, error) {
	data, err := c.readState(ctx, credentialfamily.GetRequestAddress(ref))
	if err != nil {
		return model.RequestSnapshot{}, err
	}

	var stored credentialfamily.RequestData
	if err := cbor.Unmarshal(data, &stored); err != nil {
		return model.RequestSnapshot{}, fmt.Errorf("failed to unmarshal request %s: %w", ref, err)
	}

	snapshot := model.RequestSnapshot{
		Ref:     ref,
		Status:  model.RequestStatus(stored.Status),
		Quorum:  stored.Quorum,
		TokenID: stored.TokenID,
	}
	if !snapshot.Status.IsValid() {
		return model.RequestSnapshot{}, fmt.Errorf("%w: request %s has status %q on the ledger", model.ErrMalformedEvent, ref, stored.Status)
	}
	for _, a := range stored.Approvals {
		verifier, err := signkeys.NormalizeAddress(a)
		if err != nil {
			return model.RequestSnapshot{}, fmt.Errorf("%w: request %s: %v", model.ErrMalformedEvent, ref, err)
		}
		snapshot.Approvals = append(snapshot.Approvals, verifier)
	}
	return snapshot, nil
}

// DeploymentBlock reads the block the credential family was deployed at
// from the on-chain settings. Wraps model.ErrNotFound when unset.
func (c *Client) DeploymentBlock(ctx context.Context) (uint64, error) {
	data, err := c.readState(ctx, settingsfamily.GetAddress(settingsfamily.DeploymentBlock))
	if err != nil {
		return 0, err
	}

	value, ok, err := settingsfamily.Value(data, settingsfamily.DeploymentBlock)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("setting %s: %w", settingsfamily.DeploymentBlock, model.ErrNotFound)
	}

	block, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid setting %s=%q: %w", settingsfamily.DeploymentBlock, value, err)
	}
	return block, nil
}
