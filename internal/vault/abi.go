// SPDX-License-Identifier: Apache-2.0

package vault

import "encoding/json"

// Minimal ERC-20 / ERC-4626 fragments sent to the relayer with each call.
var (
	approveABI = json.RawMessage(`[{"type":"function","name":"approve","stateMutability":"nonpayable",` +
		`"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],` +
		`"outputs":[{"name":"","type":"bool"}]}]`)

	allowanceABI = json.RawMessage(`[{"type":"function","name":"allowance","stateMutability":"view",` +
		`"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],` +
		`"outputs":[{"name":"","type":"uint256"}]}]`)

	balanceOfABI = json.RawMessage(`[{"type":"function","name":"balanceOf","stateMutability":"view",` +
		`"inputs":[{"name":"account","type":"address"}],` +
		`"outputs":[{"name":"","type":"uint256"}]}]`)

	depositABI = json.RawMessage(`[{"type":"function","name":"deposit","stateMutability":"nonpayable",` +
		`"inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"}],` +
		`"outputs":[{"name":"shares","type":"uint256"}]}]`)

	withdrawABI = json.RawMessage(`[{"type":"function","name":"withdraw","stateMutability":"nonpayable",` +
		`"inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"},{"name":"owner","type":"address"}],` +
		`"outputs":[{"name":"shares","type":"uint256"}]}]`)

	redeemABI = json.RawMessage(`[{"type":"function","name":"redeem","stateMutability":"nonpayable",` +
		`"inputs":[{"name":"shares","type":"uint256"},{"name":"receiver","type":"address"},{"name":"owner","type":"address"}],` +
		`"outputs":[{"name":"assets","type":"uint256"}]}]`)

	maxWithdrawABI = json.RawMessage(`[{"type":"function","name":"maxWithdraw","stateMutability":"view",` +
		`"inputs":[{"name":"owner","type":"address"}],` +
		`"outputs":[{"name":"","type":"uint256"}]}]`)
)
