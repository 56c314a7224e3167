/**
 * Copyright 2018 Intel Corporation
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 * ------------------------------------------------------------------------------
 */

// based on https://github.com/hyperledger/sawtooth-sdk-go/blob/21f3d02d2446b6a91a945c93a8b94b1ddf616841/examples/intkey_go/src/sawtooth_intkey_client/intkey_client.go

package blockchain

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"strconv"

	"credential-registry/internal/blockchain/credentialfamily"
	"credential-registry/internal/hashing"

	"github.com/fxamacker/cbor"
	"github.com/hyperledger/sawtooth-sdk-go/protobuf/batch_pb2"
	"github.com/hyperledger/sawtooth-sdk-go/protobuf/transaction_pb2"
	"github.com/hyperledger/sawtooth-sdk-go/signing"
	"google.golang.org/protobuf/proto"
)

// NewTransaction builds a signed credential family transaction. The payload
// is CBOR encoded in canonical form so its hash is reproducible.
func NewTransaction(payload interface{}, signer *signing.Signer, addresses []string) (*transaction_pb2.Transaction, error) {
	payloadDump, err := cbor.Marshal(payload, cbor.CanonicalEncOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to dump the payload: %w", err)
	}

	rawTransactionHeader := transaction_pb2.TransactionHeader{
		SignerPublicKey:  signer.GetPublicKey().AsHex(),
		FamilyName:       credentialfamily.FamilyName,
		FamilyVersion:    credentialfamily.FamilyVersion,
		Nonce:            strconv.Itoa(rand.Int()),
		BatcherPublicKey: signer.GetPublicKey().AsHex(),
		Inputs:           addresses,
		Outputs:          addresses,
		PayloadSha512:    hashing.Calculate(payloadDump),
	}

	transactionHeader, err := proto.Marshal(&rawTransactionHeader)
	if err != nil {
		return nil, fmt.Errorf("unable to serialize transaction header: %w", err)
	}

	return &transaction_pb2.Transaction{
		Header:          transactionHeader,
		HeaderSignature: hex.EncodeToString(signer.Sign(transactionHeader)),
		Payload:         payloadDump,
	}, nil
}

func createBatchList(transactions []*transaction_pb2.Transaction, signer *signing.Signer) (*batch_pb2.BatchList, error) {
	transactionSignatures := make([]string, 0, len(transactions))
	for _, transaction := range transactions {
		transactionSignatures = append(transactionSignatures, transaction.HeaderSignature)
	}

	rawBatchHeader := batch_pb2.BatchHeader{
		SignerPublicKey: signer.GetPublicKey().AsHex(),
		TransactionIds:  transactionSignatures,
	}
	batchHeader, err := proto.Marshal(&rawBatchHeader)
	if err != nil {
		return nil, fmt.Errorf("unable to serialize batch header: %w", err)
	}

	batch := batch_pb2.Batch{
		Header:          batchHeader,
		Transactions:    transactions,
		HeaderSignature: hex.EncodeToString(signer.Sign(batchHeader)),
	}

	return &batch_pb2.BatchList{
		Batches: []*batch_pb2.Batch{&batch},
	}, nil
}
