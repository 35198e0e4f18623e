package config

// Application 应用程序配置
type Application struct {
	Mode string `mapstructure:"mode" json:"mode"` // dev, test, prod
	Name string `mapstructure:"name" json:"name"` // 进程名称，用于日志与指标
	Host string `mapstructure:"host" json:"host"` // 本机标识，写入报告便于多机汇总
}

var ApplicationConfig = new(Application)
