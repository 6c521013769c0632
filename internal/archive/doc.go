// Package archive 提供归档 git 仓库的提交、打标签、推送与环境诊断功能。
//
// 主要功能：
//   - Publish: 暂存输出目录的变更，提交并创建三个版本标签，可选推送
//   - CheckRepository / CheckOutputWritable / CheckPerformance: doctor 使用的检查项
package archive
