// Package generator 把问卷转换为 30 天内容计划文档，是任务处理器的业务核心。
package generator
