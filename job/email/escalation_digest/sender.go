package escalation_digest

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/smtp"
	"time"

	"github.com/Masterminds/sprig/v3"
	"gorm.io/gorm"

	"github.com/asklokesh/FireLater-sub004/models/portal"
)

//go:embed template.html
var templateFS embed.FS

// 日报统计窗口
const digestWindow = 24 * time.Hour

// DigestSender 升级日报发送器
//
// 汇总过去24小时内无人确认而耗尽的升级执行与通知失败记录，
// 邮件告知运维侧；耗尽执行没有同步调用方，只能靠这类离线
// 渠道暴露.
type DigestSender struct {
	db *gorm.DB
	// 邮件配置
	smtpHost     string
	smtpPort     int
	smtpUser     string
	smtpPassword string
	fromEmail    string
	toEmails     []string
}

// NewDigestSender 创建升级日报发送器
func NewDigestSender(db *gorm.DB, smtpHost string, smtpPort int, smtpUser, smtpPassword, fromEmail string, toEmails []string) *DigestSender {
	return &DigestSender{
		db:           db,
		smtpHost:     smtpHost,
		smtpPort:     smtpPort,
		smtpUser:     smtpUser,
		smtpPassword: smtpPassword,
		fromEmail:    fromEmail,
		toEmails:     toEmails,
	}
}

// collectData 收集日报数据
func (s *DigestSender) collectData(ctx context.Context) (*DigestTemplateData, error) {
	since := time.Now().Add(-digestWindow)

	var executions []portal.EscalationExecution
	if err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at >= ?", portal.ExecutionStatusExhausted, since).
		Order("updated_at DESC").
		Find(&executions).Error; err != nil {
		return nil, fmt.Errorf("failed to load exhausted executions: %w", err)
	}

	data := &DigestTemplateData{
		Date: time.Now().Format("2006-01-02"),
	}

	for _, execution := range executions {
		var policy portal.EscalationPolicy
		policyName := fmt.Sprintf("policy-%d", execution.PolicyID)
		if err := s.db.WithContext(ctx).First(&policy, execution.PolicyID).Error; err == nil {
			policyName = policy.Name
		}

		data.ExhaustedExecutions = append(data.ExhaustedExecutions, ExhaustedExecution{
			ExecutionID: execution.ID,
			TenantID:    execution.TenantID,
			PolicyName:  policyName,
			TriggerID:   execution.TriggerID,
			StartedAt:   execution.StartedAt.String(),
			Cycles:      execution.CurrentCycle,
		})
	}
	data.TotalExhausted = len(data.ExhaustedExecutions)

	var failures []portal.NotificationLog
	if err := s.db.WithContext(ctx).
		Where("status = ? AND created_at >= ?", portal.NotificationStatusFailed, since).
		Order("created_at DESC").
		Find(&failures).Error; err != nil {
		return nil, fmt.Errorf("failed to load failed notifications: %w", err)
	}

	for _, failure := range failures {
		var executionID int64
		if failure.ExecutionID != nil {
			executionID = *failure.ExecutionID
		}
		data.FailedNotifications = append(data.FailedNotifications, FailedNotification{
			ExecutionID:  executionID,
			TenantID:     failure.TenantID,
			StepNumber:   failure.StepNumber,
			Recipient:    failure.Recipient,
			ErrorMessage: failure.ErrorMessage,
			SendTime:     failure.SendTime.String(),
		})
	}
	data.TotalFailed = len(data.FailedNotifications)

	return data, nil
}

// generateEmailContent 生成邮件内容
func (s *DigestSender) generateEmailContent(data *DigestTemplateData) (string, error) {
	tmpl, err := template.New("escalationDigest").Funcs(sprig.HtmlFuncMap()).ParseFS(templateFS, "template.html")
	if err != nil {
		return "", fmt.Errorf("failed to parse email template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "template.html", data); err != nil {
		return "", fmt.Errorf("failed to execute email template: %w", err)
	}

	return buf.String(), nil
}

// sendEmail 发送邮件
func (s *DigestSender) sendEmail(subject, content string) error {
	auth := smtp.PlainAuth("", s.smtpUser, s.smtpPassword, s.smtpHost)

	headers := make(map[string]string)
	headers["From"] = s.fromEmail
	headers["To"] = fmt.Sprintf("%s", s.toEmails)
	headers["Subject"] = subject
	headers["MIME-Version"] = "1.0"
	headers["Content-Type"] = "text/html; charset=UTF-8"

	var message bytes.Buffer
	for key, value := range headers {
		message.WriteString(fmt.Sprintf("%s: %s\r\n", key, value))
	}
	message.WriteString("\r\n" + content)

	addr := fmt.Sprintf("%s:%d", s.smtpHost, s.smtpPort)
	if err := smtp.SendMail(addr, auth, s.fromEmail, s.toEmails, message.Bytes()); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	fmt.Printf("[INFO] 邮件发送成功，收件人: %v\n", s.toEmails)
	return nil
}

// Run 运行日报发送任务
func (s *DigestSender) Run(ctx context.Context) error {
	data, err := s.collectData(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect digest data: %w", err)
	}

	// 没有异常就不打扰收件人
	if data.TotalExhausted == 0 && data.TotalFailed == 0 {
		fmt.Println("[INFO] 过去24小时无耗尽升级与通知失败，跳过发送。")
		return nil
	}

	content, err := s.generateEmailContent(data)
	if err != nil {
		return fmt.Errorf("failed to generate email content: %w", err)
	}

	subject := fmt.Sprintf("值班升级异常日报 - %s", data.Date)
	if err := s.sendEmail(subject, content); err != nil {
		return err
	}

	fmt.Println("[INFO] 升级日报邮件发送流程完成。")
	return nil
}
