// Package config 提供 repodata-archive 的配置管理功能。
//
// 配置文件存储在 ~/.config/repodata-archive/config.yaml，使用 YAML 格式。
// 所有配置项都可以用 REPODATA_ 前缀的环境变量覆盖（如 REPODATA_OUTPUT），
// 版本号额外绑定 CI 工作流使用的 VERSION_MAYOR、VERSION_MINOR、VERSION_CHANNELS，
// 推送凭据读取 GITHUB_TOKEN。
package config
