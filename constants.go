package ch4nn337

import "math/big"

// Gas and fee parameters of every channel operation. They are part of the
// protocol: both parties and the deployed account expect exactly these
// values, so they are not configurable per channel.
const (
	CallGasLimitDispute  uint64 = 200_000
	CallGasLimitCoop     uint64 = 200_000
	VerificationGasLimit uint64 = 1_500_000
	PreVerificationGas   uint64 = 200_000
	MaxFeePerGas         uint64 = 100_000_000
	MaxPriorityFeePerGas uint64 = 100_000_000 // 0.1 gwei
)

func u64(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}

// hasFixedConstants reports whether the paymaster is empty and the gas and
// fee fields other than the call gas limit hold the protocol values.
func (op *UserOperation) hasFixedConstants() bool {
	return len(op.PaymasterAndData) == 0 &&
		bigEqual(op.MaxPriorityFeePerGas, u64(MaxPriorityFeePerGas)) &&
		bigEqual(op.MaxFeePerGas, u64(MaxFeePerGas)) &&
		bigEqual(op.PreVerificationGas, u64(PreVerificationGas)) &&
		bigEqual(op.VerificationGasLimit, u64(VerificationGasLimit))
}
