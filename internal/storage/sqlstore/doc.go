// Package sqlstore 基于 database/sql 实现挑战、玩家、消息、口令与合约元数据的持久化，
// 支持 MySQL 与 SQLite 两种驱动，并在启动时执行内嵌的版本化迁移。
package sqlstore
