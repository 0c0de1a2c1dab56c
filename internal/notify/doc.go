// Package notify 负责把破解等业务事件推送到外部渠道：Webhook 直接投递，
// 或先写入内存、Redis、RabbitMQ 队列，再由工作协程异步投递。
package notify
