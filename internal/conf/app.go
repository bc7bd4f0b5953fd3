package conf

const (
	APP_NAME = "apihub"
	APP_DESC = "API key management and billing gateway"
)

// 编译时通过 -ldflags 注入
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	Author    = "Likyliang"
	Repo      = "https://github.com/Likyliang/APIHub-Gateway"
)
