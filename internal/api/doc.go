// Package api 暴露结账、支付校验、任务提交与文档下载等 HTTP 接口，
// 以及供运维使用的管理接口。
package api
