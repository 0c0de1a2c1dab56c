// Package vault 提供金库口令解析与链上金库合约的管理操作：
// 解锁、查询余额、分配资金、读取到期时间，以及定期检查到期挑战的调度任务。
package vault
