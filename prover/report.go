package prover

import (
	"fmt"
)

// reportMinSize is the fixed prefix of an encoded report: four 32-byte
// words and the 64-byte signature; the variable-length signer key follows.
const reportMinSize = 4*32 + 64

// encodeReport flattens a signed attestation into the byte layout the
// verifier contract decodes: batchHash ‖ prev ‖ new ‖ withdrawal ‖
// signature ‖ signer.
func encodeReport(poe *Poe) ([]byte, error) {
	if len(poe.Signature) != 64 {
		return nil, fmt.Errorf("prover: report requires a signed poe")
	}
	out := make([]byte, 0, reportMinSize+len(poe.Signer))
	out = append(out, poe.BatchHash.Bytes()...)
	out = append(out, poe.PrevStateRoot.Bytes()...)
	out = append(out, poe.NewStateRoot.Bytes()...)
	out = append(out, poe.WithdrawalRoot.Bytes()...)
	out = append(out, poe.Signature...)
	out = append(out, poe.Signer...)
	return out, nil
}
