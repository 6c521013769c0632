// Package version 定义归档版本号三元组，以及由运行时间戳推导 git 标签的规则。
//
// 三个版本号由人工维护：
//   - Mayor: 输出格式发生不兼容变化时递增
//   - Minor: 输出内容发生兼容变化时递增
//   - Channels: 归档频道列表变化时递增
package version

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// 环境变量名沿用 CI 工作流中的拼写。
const (
	EnvMayor    = "VERSION_MAYOR"
	EnvMinor    = "VERSION_MINOR"
	EnvChannels = "VERSION_CHANNELS"
)

const (
	timeLayout = "2006.01.02.15.04.05"
	dateLayout = "2006.01.02"
)

// Version 是归档版本号三元组。
type Version struct {
	Mayor    int
	Minor    int
	Channels int
}

// String 返回 "M.m.C" 形式。
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Mayor, v.Minor, v.Channels)
}

// Validate 检查各分量均为非负数。
func (v Version) Validate() error {
	if v.Mayor < 0 || v.Minor < 0 || v.Channels < 0 {
		return fmt.Errorf("version components must be >= 0, got %s", v)
	}
	return nil
}

// FromEnv 从环境变量读取版本号，未设置的分量沿用 base 中的值。
// lookup 通常传入 os.LookupEnv。
func FromEnv(base Version, lookup func(string) (string, bool)) (Version, error) {
	v := base
	fields := []struct {
		name string
		dst  *int
	}{
		{EnvMayor, &v.Mayor},
		{EnvMinor, &v.Minor},
		{EnvChannels, &v.Channels},
	}
	for _, f := range fields {
		raw, ok := lookup(f.name)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Version{}, fmt.Errorf("invalid %s %q: %w", f.name, raw, err)
		}
		*f.dst = n
	}
	return v, v.Validate()
}

// Tagset 是一次运行产生的三个标签，按从具体到宽泛排列。
type Tagset struct {
	// Full 形如 "1.1.1.2021.02.03.04.05.06"，创建失败即视为错误。
	Full string
	// Date 形如 "1.1.1.2021.02.03"，同一天内重复创建会失败，可容忍。
	Date string
	// Bare 形如 "2021.02.03"，可容忍重复。
	Bare string
}

// All 返回全部标签。
func (t Tagset) All() []string {
	return []string{t.Full, t.Date, t.Bare}
}

// Tags 由版本号和 .time 中的时间戳推导标签。
// 时间字段直接取自时间戳本身，不做时区换算。
func Tags(v Version, timestamp string) (Tagset, error) {
	if err := v.Validate(); err != nil {
		return Tagset{}, err
	}

	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(timestamp))
	if err != nil {
		return Tagset{}, fmt.Errorf("parse timestamp %q: %w", timestamp, err)
	}

	date := ts.Format(dateLayout)
	return Tagset{
		Full: v.String() + "." + ts.Format(timeLayout),
		Date: v.String() + "." + date,
		Bare: date,
	}, nil
}
