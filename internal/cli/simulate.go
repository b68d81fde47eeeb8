package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateEntity string
	simulateCount  int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次低库存并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateEntity == "" {
			return errors.New("--entity 必须配置")
		}
		if simulateCount < 0 {
			return errors.New("--count 不能为负数")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateEntity, simulateCount)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateEntity, "entity", "mango", "商品名称")
	simulateCmd.Flags().IntVar(&simulateCount, "count", 0, "当前库存")
}
