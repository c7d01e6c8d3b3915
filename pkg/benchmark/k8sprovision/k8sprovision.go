// Package k8sprovision provisions a short-lived chain instance pod (an
// anvil node) per benchmark run when the benchmark config opts into
// cluster-backed provisioning rather than a local process. Client setup
// follows the teacher's kube client construction in
// agents/manager/internal/beam/kube.go: in-cluster config first, falling
// back to KUBECONFIG/~/.kube/config for local runs.
package k8sprovision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Client provisions and tears down benchmark chain pods.
type Client struct {
	clientset *kubernetes.Clientset
	namespace string
}

// New builds a Client, preferring in-cluster config and falling back to
// KUBECONFIG or ~/.kube/config.
func New() (*Client, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := strings.TrimSpace(os.Getenv("KUBECONFIG"))
		if kubeconfig == "" {
			home, _ := os.UserHomeDir()
			if home != "" {
				kubeconfig = filepath.Join(home, ".kube", "config")
			}
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("k8sprovision: building kube config: %w", err)
		}
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("k8sprovision: building clientset: %w", err)
	}
	ns := strings.TrimSpace(os.Getenv("BENCHMARK_NAMESPACE"))
	if ns == "" {
		ns = "audit-benchmark"
	}
	return &Client{clientset: clientset, namespace: ns}, nil
}

// ChainHandle identifies a provisioned chain pod and its RPC endpoint.
type ChainHandle struct {
	PodName  string
	Endpoint string
}

// ProvisionAnvil creates a pod running an anvil chain instance labeled
// with runID, and waits for it to enter Running phase.
func (c *Client) ProvisionAnvil(ctx context.Context, runID, image string) (ChainHandle, error) {
	if image == "" {
		image = "ghcr.io/foundry-rs/foundry:latest"
	}
	// The pod name carries a per-provision suffix so that provisioning
	// again under the same runID cannot collide with a still-tearing-down
	// pod from a prior provision.
	podName := fmt.Sprintf("anvil-%s-%s", sanitize(runID), uuid.NewString()[:8])

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName,
			Namespace: c.namespace,
			Labels:    map[string]string{"audit.benchmark/run": runID},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{
				{
					Name:    "anvil",
					Image:   image,
					Command: []string{"anvil", "--host", "0.0.0.0"},
					Ports: []corev1.ContainerPort{
						{ContainerPort: 8545},
					},
				},
			},
		},
	}

	if _, err := c.clientset.CoreV1().Pods(c.namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		return ChainHandle{}, fmt.Errorf("k8sprovision: creating pod %s: %w", podName, err)
	}

	if err := c.waitRunning(ctx, podName); err != nil {
		return ChainHandle{}, err
	}

	endpoint := fmt.Sprintf("http://%s.%s.svc.cluster.local:8545", podName, c.namespace)
	return ChainHandle{PodName: podName, Endpoint: endpoint}, nil
}

func (c *Client) waitRunning(ctx context.Context, podName string) error {
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		pod, err := c.clientset.CoreV1().Pods(c.namespace).Get(ctx, podName, metav1.GetOptions{})
		if err != nil {
			return fmt.Errorf("k8sprovision: getting pod %s: %w", podName, err)
		}
		if pod.Status.Phase == corev1.PodRunning {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("k8sprovision: pod %s did not reach Running within deadline", podName)
}

// Teardown deletes the provisioned pod, best-effort.
func (c *Client) Teardown(ctx context.Context, handle ChainHandle) error {
	err := c.clientset.CoreV1().Pods(c.namespace).Delete(ctx, handle.PodName, metav1.DeleteOptions{})
	if err != nil {
		return fmt.Errorf("k8sprovision: deleting pod %s: %w", handle.PodName, err)
	}
	return nil
}

func sanitize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	return b.String()
}
